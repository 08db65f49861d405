// Package vault reads secret payloads from a Vault-compatible backend.
//
// The client authenticates with either a static token or a username/password
// pair, caches the session token obtained from userpass login for its own
// lifetime, re-authenticates once when the backend rejects a token, and keeps
// successfully read payloads in an in-memory TTL cache so that a path is
// fetched from the network at most once per TTL window. Concurrent callers
// racing on a cold cache may each perform their own fetch; deduplicating
// in-flight requests is out of scope.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/richxcame/konfig/pkg/cache"
	"github.com/richxcame/konfig/pkg/logger"
	"github.com/richxcame/konfig/pkg/resilience"
	"go.uber.org/zap"
)

// ErrMissing indicates that a secret path holds no data in the backend.
var ErrMissing = errors.New("secret is not present in vault")

// MissingError reports an absent secret path together with the configured
// prefix so that misconfigured prefixes are diagnosable from the message.
type MissingError struct {
	Path   string
	Prefix string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("option `%s` is not present in Vault (prefix: %q)", e.Path, e.Prefix)
}

func (e *MissingError) Is(target error) bool { return target == ErrMissing }

// Credentials carries the backend address and either a token or a
// username/password pair.
type Credentials struct {
	Address  string
	Token    string
	Username string
	Password string
}

// Loader is the read contract the configuration facade depends on.
type Loader interface {
	// Load returns the secret payload stored at path.
	Load(ctx context.Context, path string, creds Credentials) (map[string]interface{}, error)
	// TryEnvFirst reports whether per-secret environment overrides should
	// be consulted before contacting the backend.
	TryEnvFirst() bool
}

// Client reads secrets over the Vault HTTP API.
type Client struct {
	prefix      string
	tryEnvFirst bool
	retry       resilience.Config
	cache       *cache.Cache

	mu    sync.Mutex
	token string // session token from userpass login, kept for the client's lifetime
}

// Option configures the client
type Option func(*Client)

// WithPrefix prepends a path prefix to every secret path before lookup.
func WithPrefix(prefix string) Option {
	return func(c *Client) { c.prefix = prefix }
}

// WithCacheTTL enables payload caching with the given time-to-live.
// A non-positive ttl caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = cache.New(ttl) }
}

// WithTryEnvFirst controls whether per-secret environment overrides are
// consulted before the backend. Enabled by default.
func WithTryEnvFirst(enabled bool) Option {
	return func(c *Client) { c.tryEnvFirst = enabled }
}

// WithRetry replaces the whole retry policy.
func WithRetry(config resilience.Config) Option {
	return func(c *Client) { c.retry = config }
}

// WithMaxRetries bounds the number of attempts per load.
func WithMaxRetries(attempts int) Option {
	return func(c *Client) { c.retry.MaxAttempts = attempts }
}

// WithMaxRetryDuration bounds the wall-clock time spent retrying a load.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.retry.MaxElapsed = d }
}

// New creates a secrets client.
func New(opts ...Option) *Client {
	retry := resilience.DefaultConfig()
	retry.RetryableChecker = IsTransient
	c := &Client{
		tryEnvFirst: true,
		retry:       retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryEnvFirst implements Loader.
func (c *Client) TryEnvFirst() bool { return c.tryEnvFirst }

// Cache returns the payload cache, or nil when caching is disabled.
func (c *Client) Cache() *cache.Cache { return c.cache }

// FullPath joins the configured prefix with path. Leading and trailing
// slashes on both sides are stripped before joining.
func (c *Client) FullPath(path string) string {
	path = strings.Trim(path, "/")
	if c.prefix == "" {
		return path
	}
	return strings.Trim(c.prefix, "/") + "/" + path
}

// Load returns the secret payload stored at path, consulting the cache
// first. Transient connectivity failures are retried under the client's
// retry policy; forbidden and missing-path errors propagate immediately.
func (c *Client) Load(ctx context.Context, path string, creds Credentials) (map[string]interface{}, error) {
	fullPath := c.FullPath(path)

	if c.cache != nil {
		if value, ok := c.cache.Get(fullPath); ok {
			logger.Debug("secret served from cache", zap.String("path", fullPath))
			return value.(map[string]interface{}), nil
		}
	}

	var payload map[string]interface{}
	err := resilience.Do(ctx, c.retry, "vault load "+fullPath, func(ctx context.Context) error {
		data, err := c.read(ctx, fullPath, creds)
		if err != nil {
			return err
		}
		payload = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(fullPath, payload)
	}
	return payload, nil
}

// read performs one authenticated read, re-authenticating once when the
// backend rejects the token and userpass credentials are available.
func (c *Client) read(ctx context.Context, fullPath string, creds Credentials) (map[string]interface{}, error) {
	client, err := c.newAPIClient(creds.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to build vault client: %w", err)
	}

	token := creds.Token
	hasUserpass := creds.Username != "" && creds.Password != ""
	if token == "" && hasUserpass {
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
		if token == "" {
			logger.Debug("retrieving a new vault token", zap.String("username", creds.Username))
			token, err = c.authUserpass(ctx, client, creds.Username, creds.Password)
			if err != nil {
				return nil, err
			}
			c.setToken(token)
		}
	}
	client.SetToken(token)

	logger.Debug("accessing secret in vault", zap.String("path", fullPath))
	secret, err := client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden && hasUserpass {
			logger.Debug("vault token is invalid, retrieving a new one")
			token, err = c.authUserpass(ctx, client, creds.Username, creds.Password)
			if err != nil {
				return nil, err
			}
			c.setToken(token)
			client.SetToken(token)
			secret, err = client.Logical().ReadWithContext(ctx, fullPath)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	if secret == nil || secret.Data == nil {
		return nil, &MissingError{Path: fullPath, Prefix: c.prefix}
	}
	return secret.Data, nil
}

// authUserpass logs in via the userpass backend and returns the client token.
func (c *Client) authUserpass(ctx context.Context, client *api.Client, username, password string) (string, error) {
	secret, err := client.Logical().WriteWithContext(
		ctx,
		"auth/userpass/login/"+username,
		map[string]interface{}{"password": password},
	)
	if err != nil {
		return "", fmt.Errorf("userpass authentication failed: %w", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", fmt.Errorf("userpass authentication returned no client token")
	}
	return secret.Auth.ClientToken, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) newAPIClient(address string) (*api.Client, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is empty")
	}
	client, err := api.NewClient(&api.Config{Address: address})
	if err != nil {
		return nil, err
	}
	// Retrying is handled by the resilience policy around Load.
	client.SetMaxRetries(0)
	return client, nil
}

// IsTransient classifies connectivity-class failures as retryable.
// Forbidden and missing-path errors are never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissing) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return resilience.IsRetryableHTTPStatus(respErr.StatusCode)
	}
	// Anything else is a connectivity-class failure.
	return true
}
