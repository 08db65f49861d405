// Package konfig resolves named configuration options from layered sources:
// scoped override layers, a settings source, and per-option descriptors
// pulling from the process environment, a Vault-compatible secrets backend
// or lazy computations over the config itself.
package konfig

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/richxcame/konfig/pkg/logger"
	"github.com/richxcame/konfig/pkg/vault"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Default names of the environment variables steering the facade.
const (
	// DefaultSettingsVariable points at the JSON settings file to load.
	DefaultSettingsVariable = "KONFIG_SETTINGS"
	// DefaultDisableSecretsVariable is the global secrets kill-switch.
	DefaultDisableSecretsVariable = "KONFIG_DISABLE_SECRETS"
	// DefaultDisableDefaultsVariable turns secret defaults into failures.
	DefaultDisableDefaultsVariable = "KONFIG_DISABLE_DEFAULTS"
)

// Option names the credential supplier resolves through the facade itself,
// so that address and credentials participate in overriding.
const (
	vaultAddrOption     = "VAULT_ADDR"
	vaultTokenOption    = "VAULT_TOKEN"
	vaultUsernameOption = "VAULT_USERNAME"
	vaultPasswordOption = "VAULT_PASSWORD"
)

// Konfig is the configuration facade. Reads resolve through the override
// stack first, then the settings source, evaluating descriptor values
// (environment, secret, lazy, nested mappings) on access.
type Konfig struct {
	backend          vault.Loader
	source           Source
	extensions       []Source
	settingsVariable string
	strictOverride   bool
	dotenvPath       string
	dotenvOverride   bool
	rc               ResolutionContext

	dotenvOnce sync.Once
	loadOnce   sync.Once
	loaded     Source
	loadErr    error

	overrides overrideStack
}

// KonfigOption configures the facade.
type KonfigOption func(*Konfig)

// WithVaultBackend sets the secrets client used for secret variables.
func WithVaultBackend(backend vault.Loader) KonfigOption {
	return func(k *Konfig) { k.backend = backend }
}

// WithSource sets the settings source explicitly instead of loading it from
// the path named by the settings environment variable.
func WithSource(source Source) KonfigOption {
	return func(k *Konfig) { k.source = source }
}

// WithSettingsVariable renames the environment variable that points at the
// settings file.
func WithSettingsVariable(name string) KonfigOption {
	return func(k *Konfig) { k.settingsVariable = name }
}

// WithStrictOverride controls override validation against declared option
// names. Enabled by default.
func WithStrictOverride(enabled bool) KonfigOption {
	return func(k *Konfig) { k.strictOverride = enabled }
}

// WithDotenv loads the given .env file before the first descriptor
// evaluation. An empty path falls back to godotenv's default lookup.
func WithDotenv(path string) KonfigOption {
	return func(k *Konfig) { k.dotenvPath = path }
}

// WithDotenvOverride makes .env values win over already-set environment
// variables.
func WithDotenvOverride(enabled bool) KonfigOption {
	return func(k *Konfig) { k.dotenvOverride = true }
}

// WithResolutionContext replaces the evaluation flags read from the
// environment at construction time.
func WithResolutionContext(rc ResolutionContext) KonfigOption {
	return func(k *Konfig) { k.rc = rc }
}

// New creates a configuration facade. The secrets kill-switch and the
// defaults kill-switch are read from the environment once, here, and
// threaded through every evaluation.
func New(opts ...KonfigOption) *Konfig {
	k := &Konfig{
		settingsVariable: DefaultSettingsVariable,
		strictOverride:   true,
		rc: ResolutionContext{
			SecretsDisabled:        getEnvAsBool(DefaultDisableSecretsVariable, false),
			DefaultsDisabled:       getEnvAsBool(DefaultDisableDefaultsVariable, false),
			DisableSecretsVariable: DefaultDisableSecretsVariable,
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ExtendWithMap appends the mapping as an additional settings source.
// Later extensions take precedence over earlier sources.
func (k *Konfig) ExtendWithMap(values map[string]interface{}) {
	k.extensions = append(k.extensions, FromMap(values))
}

// ExtendWithJSONFile appends a JSON file as an additional settings source.
func (k *Konfig) ExtendWithJSONFile(path string) {
	k.extensions = append(k.extensions, FromJSONFile(path))
}

// settings resolves the settings source, loading it at most once.
func (k *Konfig) settings() (Source, error) {
	k.loadOnce.Do(func() {
		base := k.source
		if base == nil {
			base, k.loadErr = loadFromVariable(k.settingsVariable)
			if k.loadErr != nil {
				return
			}
		}
		if len(k.extensions) == 0 {
			k.loaded = base
		} else {
			k.loaded = &chainSource{sources: append([]Source{base}, k.extensions...)}
		}
		logger.Debug("configuration loaded", zap.String("source", k.loaded.Name()))
	})
	return k.loaded, k.loadErr
}

// loadDotenv loads the .env file once, before the first descriptor
// evaluation, matching the lazy loading of the settings source.
func (k *Konfig) loadDotenv() {
	k.dotenvOnce.Do(func() {
		var err error
		switch {
		case k.dotenvPath != "" && k.dotenvOverride:
			err = godotenv.Overload(k.dotenvPath)
		case k.dotenvPath != "":
			err = godotenv.Load(k.dotenvPath)
		default:
			// Missing default .env is fine.
			_ = godotenv.Load()
		}
		if err != nil {
			logger.Warn("failed to load .env file", zap.String("path", k.dotenvPath), zap.Error(err))
			return
		}
		logger.Debug(".env is loaded")
	})
}

// Get resolves the named option: override layers first (topmost wins), then
// the settings source with the raw value evaluated according to its kind.
func (k *Konfig) Get(ctx context.Context, name string) (interface{}, error) {
	logger.Debug("accessing option", zap.String("option", name))
	if value, ok := k.overrides.resolve(name); ok {
		return value, nil
	}
	source, err := k.settings()
	if err != nil {
		return nil, err
	}
	raw, ok := source.Get(name)
	if !ok {
		return nil, missingOptionError(name, source.Name())
	}
	return k.evaluate(ctx, raw)
}

// MustGet is Get that panics on error.
func (k *Konfig) MustGet(ctx context.Context, name string) interface{} {
	value, err := k.Get(ctx, name)
	if err != nil {
		panic(err)
	}
	return value
}

// evaluate resolves a raw settings value according to its kind.
func (k *Konfig) evaluate(ctx context.Context, raw interface{}) (interface{}, error) {
	switch value := raw.(type) {
	case EnvVariable:
		k.loadDotenv()
		return value.Evaluate()
	case VaultVariable:
		k.loadDotenv()
		return k.evaluateSecret(ctx, value)
	case LazyVariable:
		k.loadDotenv()
		return value.Evaluate(ctx, k)
	case map[string]interface{}:
		return k.evaluateMap(ctx, value)
	default:
		return raw, nil
	}
}

// evaluateMap evaluates a nested mapping into a fresh copy, leaving the
// declared structure untouched.
func (k *Konfig) evaluateMap(ctx context.Context, values map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(values))
	for key, value := range values {
		evaluated, err := k.evaluate(ctx, value)
		if err != nil {
			return nil, err
		}
		result[key] = evaluated
	}
	return result, nil
}

// GetSecret reads a secret payload directly by path.
func (k *Konfig) GetSecret(ctx context.Context, path string) (interface{}, error) {
	logger.Debug("accessing secret", zap.String("path", path))
	return k.evaluateSecret(ctx, Vault(path))
}

func (k *Konfig) evaluateSecret(ctx context.Context, variable VaultVariable) (interface{}, error) {
	if k.backend == nil {
		return nil, fmt.Errorf(
			"%w: please specify the `WithVaultBackend` option in your Konfig initialization",
			ErrVaultBackendMissing,
		)
	}
	return variable.Evaluate(ctx, k.backend, k.credentials, k.rc)
}

// credentials resolves the backend address and credentials through the
// facade itself, so that overridden values are honored. It fails only when
// neither a token nor a complete username/password pair is resolvable.
func (k *Konfig) credentials(ctx context.Context) (vault.Credentials, error) {
	address, err := k.getString(ctx, vaultAddrOption)
	if err != nil {
		return vault.Credentials{}, err
	}

	token := k.optionalString(ctx, vaultTokenOption)
	username := k.optionalString(ctx, vaultUsernameOption)
	password := k.optionalString(ctx, vaultPasswordOption)

	if token == "" && (username == "" || password == "") {
		return vault.Credentials{}, fmt.Errorf(
			"%w: neither `%s` nor a complete `%s`/`%s` pair is configured",
			ErrMissingOption, vaultTokenOption, vaultUsernameOption, vaultPasswordOption,
		)
	}

	return vault.Credentials{
		Address:  address,
		Token:    token,
		Username: username,
		Password: password,
	}, nil
}

func (k *Konfig) getString(ctx context.Context, name string) (string, error) {
	value, err := k.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(value)
}

// optionalString resolves an option, treating any missing-class failure as
// an absent value.
func (k *Konfig) optionalString(ctx context.Context, name string) string {
	value, err := k.Get(ctx, name)
	if err != nil {
		return ""
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return ""
	}
	return s
}

// Contains reports whether the option resolves through the override stack
// or is declared in the settings source. It never fails with a missing
// error; an unloadable settings source simply reports false.
func (k *Konfig) Contains(name string) bool {
	if _, ok := k.overrides.resolve(name); ok {
		return true
	}
	source, err := k.settings()
	if err != nil {
		return false
	}
	_, ok := source.Get(name)
	return ok
}

// Require checks that every given option is resolvable and returns a
// missing-option error naming the ones that are not.
func (k *Konfig) Require(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return fmt.Errorf("you need to specify at least one key")
	}
	var missing []string
	for _, name := range names {
		if _, err := k.Get(ctx, name); err != nil && errorsIsMissing(err) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: options %v are required", ErrMissingOption, missing)
	}
	return nil
}

// VaultOverrideExamples returns, per declared secret option, a ready-to-use
// example of the environment variable that overrides it.
func (k *Konfig) VaultOverrideExamples() (map[string]map[string]string, error) {
	source, err := k.settings()
	if err != nil {
		return nil, err
	}
	examples := make(map[string]map[string]string)
	for _, name := range source.Names() {
		raw, ok := source.Get(name)
		if !ok {
			continue
		}
		if variable, ok := raw.(VaultVariable); ok {
			examples[name] = variable.OverrideExample()
		}
	}
	return examples, nil
}

// getEnvAsBool reads a boolean environment flag with a default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		// Any non-empty unparsable value counts as set, matching the
		// kill-switch convention of "unset to enable".
		return true
	}
	return defaultValue
}
