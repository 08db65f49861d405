package konfig

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/richxcame/konfig/pkg/logger"
	"go.uber.org/zap"
)

// overrideLayer is one named set of option values taking precedence over
// the settings source for the duration of its activation.
type overrideLayer struct {
	id     string
	values map[string]interface{}
}

// overrideStack is the ordered collection of active override layers.
// Lookup scans from the most recently activated layer down; removal is by
// explicit id, so non-overlapping overrides on different code paths may
// deactivate out of LIFO order. Activation and deactivation are expected to
// happen on one logical control thread; the mutex only guards memory
// safety, not ordering.
type overrideStack struct {
	mu     sync.Mutex
	layers []overrideLayer
}

func (s *overrideStack) push(id string, values map[string]interface{}) {
	s.mu.Lock()
	s.layers = append(s.layers, overrideLayer{id: id, values: values})
	s.mu.Unlock()
}

func (s *overrideStack) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, layer := range s.layers {
		if layer.id == id {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *overrideStack) clear() {
	s.mu.Lock()
	s.layers = nil
	s.mu.Unlock()
}

// resolve returns the value of name from the topmost layer containing it.
func (s *overrideStack) resolve(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.layers) - 1; i >= 0; i-- {
		if value, ok := s.layers[i].values[name]; ok {
			return value, true
		}
	}
	return nil, false
}

var overrideCounter atomic.Uint64

// Override is a scoped set of config option overrides. Create one with
// Konfig.Override, then either drive it manually with Enable/Disable or use
// Run and Wrap which guarantee deactivation on every exit path.
type Override struct {
	config *Konfig
	id     string
	values map[string]interface{}
}

// Override prepares an override with the given values. Nothing is applied
// until Enable (or Run/Wrap) is called.
func (k *Konfig) Override(values map[string]interface{}) *Override {
	return &Override{
		config: k,
		id:     strconv.FormatUint(overrideCounter.Add(1), 10),
		values: values,
	}
}

// Enable validates and pushes the override layer. In strict mode every key
// must be declared in the settings source; a forbidden key fails the whole
// activation before any layer is pushed.
func (o *Override) Enable() error {
	return o.config.activateOverride(o.id, o.values)
}

// Disable removes the override layer. It is an error to disable an
// override that is not active.
func (o *Override) Disable() error {
	return o.config.deactivateOverride(o.id)
}

// Run executes fn with the override active, deactivating it on every exit
// path including panics.
func (o *Override) Run(fn func() error) error {
	if err := o.Enable(); err != nil {
		return err
	}
	defer func() {
		if err := o.Disable(); err != nil {
			logger.Error("failed to deactivate override", zap.String("id", o.id), zap.Error(err))
		}
	}()
	return fn()
}

// Wrap composes the override with pre-existing setup/teardown hooks, the
// shape used to scope an override to a whole test suite. The returned setup
// activates the override before running the wrapped setup and deactivates
// it again if that setup fails, surfacing the setup failure. The returned
// teardown runs the wrapped teardown and deactivates the override
// afterwards even when the teardown fails. Either hook may be nil.
func (o *Override) Wrap(setup, teardown func() error) (func() error, func() error) {
	wrappedSetup := func() error {
		if err := o.Enable(); err != nil {
			return err
		}
		if setup == nil {
			return nil
		}
		if err := setup(); err != nil {
			if disableErr := o.Disable(); disableErr != nil {
				logger.Error("failed to deactivate override", zap.String("id", o.id), zap.Error(disableErr))
			}
			return err
		}
		return nil
	}
	wrappedTeardown := func() error {
		var err error
		if teardown != nil {
			err = teardown()
		}
		if disableErr := o.Disable(); disableErr != nil && err == nil {
			err = disableErr
		}
		return err
	}
	return wrappedSetup, wrappedTeardown
}

// activateOverride validates values in strict mode and pushes a layer.
func (k *Konfig) activateOverride(id string, values map[string]interface{}) error {
	logger.Debug("start overriding", zap.String("id", id), zap.Int("options", len(values)))
	if k.strictOverride {
		if err := k.validateOverride(values); err != nil {
			return err
		}
	}
	k.overrides.push(id, values)
	return nil
}

// validateOverride prevents overriding options that are not declared in the
// settings source. This keeps overrides up-to-date when options are removed
// from the config.
func (k *Konfig) validateOverride(values map[string]interface{}) error {
	source, err := k.settings()
	if err != nil {
		return err
	}
	declared := make(map[string]struct{})
	for _, name := range source.Names() {
		declared[name] = struct{}{}
	}
	for key := range values {
		if _, ok := declared[key]; !ok {
			return fmt.Errorf(
				"%w: can't override `%s` config option, because it is not defined in the config source",
				ErrForbiddenOverride, key,
			)
		}
	}
	return nil
}

func (k *Konfig) deactivateOverride(id string) error {
	if !k.overrides.remove(id) {
		return fmt.Errorf("override `%s` is not active", id)
	}
	logger.Debug("stop overriding", zap.String("id", id))
	return nil
}

// DeactivateAll removes every active override layer. Meant for wholesale
// cleanup between test cases.
func (k *Konfig) DeactivateAll() {
	logger.Debug("stop overriding")
	k.overrides.clear()
}
