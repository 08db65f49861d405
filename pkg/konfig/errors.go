package konfig

import (
	"errors"
	"fmt"
)

// Sentinel errors for the configuration layer. Callers classify failures
// with errors.Is; messages at the use sites carry the offending option or
// path names.
var (
	// ErrMissingOption indicates a requested option is not declared in any
	// reachable source.
	ErrMissingOption = errors.New("config option is missing")
	// ErrSecretKeyMissing indicates a secret path exists but does not
	// contain the requested key path, with no usable default.
	ErrSecretKeyMissing = errors.New("secret key is missing")
	// ErrVaultBackendMissing indicates a secret was accessed without a
	// configured secrets backend.
	ErrVaultBackendMissing = errors.New("vault backend is not configured")
	// ErrForbiddenOverride indicates an attempt to override an option that
	// is not declared in the settings source while strict mode is on.
	ErrForbiddenOverride = errors.New("forbidden override")
	// ErrInvalidSecretOverride indicates a per-secret override environment
	// variable does not hold a JSON-encoded object.
	ErrInvalidSecretOverride = errors.New("invalid secret override")
	// ErrSecretsDisabled indicates the global secrets kill-switch is active.
	ErrSecretsDisabled = errors.New("access to secrets is disabled")
	// ErrSettingsNotSpecified indicates the environment variable pointing
	// at the settings source is not set.
	ErrSettingsNotSpecified = errors.New("settings are not specified")
	// ErrSettingsNotLoadable indicates the settings source exists but
	// cannot be read or parsed.
	ErrSettingsNotLoadable = errors.New("settings are not loadable")
)

// SecretKeyMissingError names the secret path and the dotted key path that
// was absent from its payload.
type SecretKeyMissingError struct {
	Path    string
	KeyPath string
}

func (e *SecretKeyMissingError) Error() string {
	return fmt.Sprintf("path `%s` exists in Vault but does not contain given key path - `%s`", e.Path, e.KeyPath)
}

func (e *SecretKeyMissingError) Is(target error) bool {
	return target == ErrSecretKeyMissing || target == ErrMissingOption
}

// errorsIsMissing reports whether err is any missing-option class failure.
func errorsIsMissing(err error) bool {
	return errors.Is(err, ErrMissingOption) || errors.Is(err, ErrSecretKeyMissing)
}

func missingOptionError(option, source string) error {
	return fmt.Errorf("%w: option `%s` is not present in `%s`", ErrMissingOption, option, source)
}
