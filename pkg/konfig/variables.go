package konfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/richxcame/konfig/pkg/logger"
	"github.com/richxcame/konfig/pkg/vault"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// overrideNameSeparator replaces slashes when a secret path is turned into
// the name of its override environment variable.
const overrideNameSeparator = "__"

// variableOptions collects the option values shared by all variable kinds.
type variableOptions struct {
	def        interface{}
	hasDefault bool
	cast       CastFunc
}

// VariableOption configures a declared variable.
type VariableOption func(*variableOptions)

// WithDefault sets the value returned when the underlying lookup fails.
func WithDefault(value interface{}) VariableOption {
	return func(o *variableOptions) {
		o.def = value
		o.hasDefault = true
	}
}

// WithCast sets the conversion applied to the resolved value.
func WithCast(fn CastFunc) VariableOption {
	return func(o *variableOptions) { o.cast = fn }
}

func applyOptions(opts []VariableOption) variableOptions {
	var o variableOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o variableOptions) castValue(value interface{}) (interface{}, error) {
	if o.cast == nil {
		return value, nil
	}
	return o.cast(value)
}

// ResolutionContext carries the process-wide evaluation flags. The facade
// reads them from the environment once at construction instead of on every
// evaluation.
type ResolutionContext struct {
	// SecretsDisabled is the global kill-switch for backend access.
	SecretsDisabled bool
	// DefaultsDisabled turns configured secret defaults into hard failures.
	DefaultsDisabled bool
	// DisableSecretsVariable names the kill-switch environment variable,
	// so error messages can tell the user what to unset.
	DisableSecretsVariable string
}

// CredentialFunc supplies the backend address and credentials at evaluation
// time. Implementations are expected to read them through the configuration
// facade so that they participate in overriding.
type CredentialFunc func(ctx context.Context) (vault.Credentials, error)

// EnvVariable declares a config option backed by a process environment
// variable.
type EnvVariable struct {
	Name string
	opts variableOptions
}

// Env declares an option resolved from the environment.
//
//	DEBUG: konfig.Env("APP_DEBUG", konfig.WithDefault(false), konfig.WithCast(konfig.AsBool))
func Env(name string, opts ...VariableOption) EnvVariable {
	return EnvVariable{Name: name, opts: applyOptions(opts)}
}

// Evaluate resolves the variable against the current environment.
func (v EnvVariable) Evaluate() (interface{}, error) {
	value, ok := os.LookupEnv(v.Name)
	if !ok {
		if v.opts.hasDefault {
			return v.opts.def, nil
		}
		return nil, fmt.Errorf("%w: environment variable `%s` is not set", ErrMissingOption, v.Name)
	}
	return v.opts.castValue(value)
}

// VaultVariable declares a config option backed by a secret payload.
// The zero value is not usable; construct with Vault.
//
// A VaultVariable is a value type: Key returns a new descriptor with an
// extended key path and never mutates the receiver, so a partially-indexed
// descriptor can be reused safely.
type VaultVariable struct {
	path string
	keys []string
	opts variableOptions
}

// Vault declares an option resolved from the secrets backend.
func Vault(path string, opts ...VariableOption) VaultVariable {
	return VaultVariable{path: path, opts: applyOptions(opts)}
}

// VaultFile declares a secret whose value is exposed as an io.Reader.
func VaultFile(path string) VaultVariable {
	return Vault(path, WithCast(func(v interface{}) (interface{}, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return io.Reader(strings.NewReader(s)), nil
	}))
}

// Path returns the secret path.
func (v VaultVariable) Path() string { return v.path }

// Keys returns a copy of the accumulated key path.
func (v VaultVariable) Keys() []string {
	keys := make([]string, len(v.keys))
	copy(keys, v.keys)
	return keys
}

// Key returns a new variable with the given keys appended to the key path.
// The keys are applied left-to-right against the secret payload at
// evaluation time.
func (v VaultVariable) Key(names ...string) VaultVariable {
	keys := make([]string, 0, len(v.keys)+len(names))
	keys = append(keys, v.keys...)
	keys = append(keys, names...)
	return VaultVariable{path: v.path, keys: keys, opts: v.opts}
}

// OverrideName converts the secret path to the name of the environment
// variable checked for overriding: outer slashes are stripped, inner
// slashes become a double underscore and the result is uppercased.
//
//	konfig.Vault("path/to") -> "PATH__TO"
func (v VaultVariable) OverrideName() string {
	return strings.ToUpper(strings.ReplaceAll(strings.Trim(v.path, "/"), "/", overrideNameSeparator))
}

// OverrideExample returns a ready-to-use example of the override variable
// with a JSON skeleton matching the accumulated key path.
func (v VaultVariable) OverrideExample() map[string]string {
	value := "{}"
	if len(v.keys) > 0 {
		example := map[string]interface{}{}
		current := example
		for _, key := range v.keys[:len(v.keys)-1] {
			next := map[string]interface{}{}
			current[key] = next
			current = next
		}
		current[v.keys[len(v.keys)-1]] = "example_value"
		encoded, _ := json.Marshal(example)
		value = string(encoded)
	}
	return map[string]string{v.OverrideName(): value}
}

// Evaluate resolves the secret through the given loader. The environment
// override, when present, short-circuits the backend entirely; it is
// consulted before the kill-switch on purpose, preserving the ability to
// run with secrets disabled as long as every accessed secret is overridden.
func (v VaultVariable) Evaluate(ctx context.Context, loader vault.Loader, creds CredentialFunc, rc ResolutionContext) (interface{}, error) {
	if loader.TryEnvFirst() {
		value, ok, err := v.evaluateFromEnv()
		if err != nil {
			return nil, err
		}
		if ok {
			return value, nil
		}
	}

	if rc.SecretsDisabled {
		return nil, fmt.Errorf(
			"%w: unset `%s` environment variable to enable it",
			ErrSecretsDisabled, rc.DisableSecretsVariable,
		)
	}

	credentials, err := creds(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: can't access secret `%s` due to failing to load vault credentials",
			ErrMissingOption, v.path,
		)
	}

	data, err := loader.Load(ctx, v.path, credentials)
	if err != nil {
		return nil, err
	}
	return v.extract(data, rc)
}

// evaluateFromEnv checks the per-secret override variable. The middle
// return value reports whether the variable was present at all; its absence
// is not an error, the caller falls through to the backend.
func (v VaultVariable) evaluateFromEnv() (interface{}, bool, error) {
	name := v.OverrideName()
	raw, ok := os.LookupEnv(name)
	if !ok {
		return nil, false, nil
	}
	logger.Debug("secret served from environment override", zap.String("variable", name))

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false, fmt.Errorf(
			"%w: `%s` variable should be a JSON-encoded dictionary, got: `%s`",
			ErrInvalidSecretOverride, name, raw,
		)
	}

	value, err := v.walk(decoded)
	if err != nil {
		return nil, false, err
	}
	value, err = v.opts.castValue(value)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// extract walks the key path into the payload and applies the cast.
func (v VaultVariable) extract(data map[string]interface{}, rc ResolutionContext) (interface{}, error) {
	value, err := v.walkWithDefault(data, rc)
	if err != nil {
		return nil, err
	}
	return v.opts.castValue(value)
}

func (v VaultVariable) walk(data map[string]interface{}) (interface{}, error) {
	var value interface{} = data
	for _, key := range v.keys {
		mapping, ok := value.(map[string]interface{})
		if !ok {
			return nil, v.keyMissingError()
		}
		value, ok = mapping[key]
		if !ok {
			return nil, v.keyMissingError()
		}
	}
	return value, nil
}

func (v VaultVariable) walkWithDefault(data map[string]interface{}, rc ResolutionContext) (interface{}, error) {
	value, err := v.walk(data)
	if err != nil {
		if v.opts.hasDefault && !rc.DefaultsDisabled {
			return v.opts.def, nil
		}
		return nil, err
	}
	return value, nil
}

func (v VaultVariable) keyMissingError() error {
	return &SecretKeyMissingError{Path: v.path, KeyPath: strings.Join(v.keys, ".")}
}

// LazyVariable declares a config option computed from other options at
// access time.
type LazyVariable struct {
	fn   func(ctx context.Context, k *Konfig) (interface{}, error)
	opts variableOptions
}

// Lazy declares an option evaluated in runtime against the config itself.
//
//	PUBLIC_URL: konfig.Lazy(func(ctx context.Context, k *konfig.Konfig) (interface{}, error) {
//	    host, err := k.Get(ctx, "HOST")
//	    ...
//	})
func Lazy(fn func(ctx context.Context, k *Konfig) (interface{}, error), opts ...VariableOption) LazyVariable {
	return LazyVariable{fn: fn, opts: applyOptions(opts)}
}

// Evaluate runs the computation. A missing-option failure inside the
// closure falls back to the configured default.
func (v LazyVariable) Evaluate(ctx context.Context, k *Konfig) (interface{}, error) {
	value, err := v.fn(ctx, k)
	if err != nil {
		if errorsIsMissing(err) && v.opts.hasDefault {
			return v.opts.def, nil
		}
		return nil, err
	}
	return v.opts.castValue(value)
}
