package konfig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overrideTestConfig() *Konfig {
	return newTestKonfig(nil, map[string]interface{}{
		"DEBUG": false,
		"NAME":  "app",
	})
}

func getValue(t *testing.T, config *Konfig, name string) interface{} {
	t.Helper()
	value, err := config.Get(context.Background(), name)
	require.NoError(t, err)
	return value
}

func TestOverride_EnableDisable(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	require.NoError(t, override.Enable())
	assert.Equal(t, true, getValue(t, config, "DEBUG"))

	require.NoError(t, override.Disable())
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_TopmostLayerWins(t *testing.T) {
	config := overrideTestConfig()

	first := config.Override(map[string]interface{}{"DEBUG": true, "NAME": "first"})
	second := config.Override(map[string]interface{}{"NAME": "second"})
	require.NoError(t, first.Enable())
	require.NoError(t, second.Enable())

	assert.Equal(t, "second", getValue(t, config, "NAME"))
	// An option absent from the top layer falls through to the one below.
	assert.Equal(t, true, getValue(t, config, "DEBUG"))

	require.NoError(t, second.Disable())
	assert.Equal(t, "first", getValue(t, config, "NAME"))

	require.NoError(t, first.Disable())
	assert.Equal(t, "app", getValue(t, config, "NAME"))
}

func TestOverride_OutOfOrderDeactivation(t *testing.T) {
	config := overrideTestConfig()

	first := config.Override(map[string]interface{}{"DEBUG": true})
	second := config.Override(map[string]interface{}{"NAME": "second"})
	require.NoError(t, first.Enable())
	require.NoError(t, second.Enable())

	// Removing the lower layer leaves the upper one intact.
	require.NoError(t, first.Disable())
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
	assert.Equal(t, "second", getValue(t, config, "NAME"))

	require.NoError(t, second.Disable())
}

func TestOverride_StrictRejectsUndeclaredOption(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true, "UNDECLARED": 1})

	err := override.Enable()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbiddenOverride)
	assert.Contains(t, err.Error(), "UNDECLARED")

	// The failed activation pushed nothing.
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
	assert.Error(t, override.Disable())
}

func TestOverride_NonStrictAllowsAnyOption(t *testing.T) {
	config := New(
		WithSource(FromMap(map[string]interface{}{"DEBUG": false})),
		WithStrictOverride(false),
	)
	override := config.Override(map[string]interface{}{"UNDECLARED": 1})

	require.NoError(t, override.Enable())
	assert.Equal(t, 1, getValue(t, config, "UNDECLARED"))
	require.NoError(t, override.Disable())
}

func TestOverride_DisableInactiveFails(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	err := override.Disable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestOverride_RunScopesActivation(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	err := override.Run(func() error {
		assert.Equal(t, true, getValue(t, config, "DEBUG"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_RunPropagatesErrorAndDeactivates(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})
	boom := errors.New("boom")

	err := override.Run(func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_RunDeactivatesOnPanic(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	assert.Panics(t, func() {
		_ = override.Run(func() error { panic("boom") })
	})
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_RunFailedActivationSkipsBody(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"UNDECLARED": 1})

	called := false
	err := override.Run(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrForbiddenOverride)
	assert.False(t, called)
}

func TestOverride_Wrap(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	var setupRan, teardownRan bool
	setup, teardown := override.Wrap(
		func() error {
			setupRan = true
			assert.Equal(t, true, getValue(t, config, "DEBUG"))
			return nil
		},
		func() error {
			teardownRan = true
			assert.Equal(t, true, getValue(t, config, "DEBUG"))
			return nil
		},
	)

	require.NoError(t, setup())
	assert.True(t, setupRan)
	assert.Equal(t, true, getValue(t, config, "DEBUG"))

	require.NoError(t, teardown())
	assert.True(t, teardownRan)
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_WrapNilHooks(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})

	setup, teardown := override.Wrap(nil, nil)
	require.NoError(t, setup())
	assert.Equal(t, true, getValue(t, config, "DEBUG"))
	require.NoError(t, teardown())
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_WrapSetupFailureDeactivates(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})
	boom := errors.New("setup failed")

	setup, _ := override.Wrap(func() error { return boom }, nil)
	require.ErrorIs(t, setup(), boom)
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestOverride_WrapTeardownFailureStillDeactivates(t *testing.T) {
	config := overrideTestConfig()
	override := config.Override(map[string]interface{}{"DEBUG": true})
	boom := errors.New("teardown failed")

	setup, teardown := override.Wrap(nil, func() error { return boom })
	require.NoError(t, setup())
	require.ErrorIs(t, teardown(), boom)
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
}

func TestKonfig_DeactivateAll(t *testing.T) {
	config := overrideTestConfig()
	require.NoError(t, config.Override(map[string]interface{}{"DEBUG": true}).Enable())
	require.NoError(t, config.Override(map[string]interface{}{"NAME": "layered"}).Enable())

	config.DeactivateAll()
	assert.Equal(t, false, getValue(t, config, "DEBUG"))
	assert.Equal(t, "app", getValue(t, config, "NAME"))
}

func TestOverrideStack_ResolveScansTopDown(t *testing.T) {
	var stack overrideStack
	stack.push("1", map[string]interface{}{"A": 1, "B": 1})
	stack.push("2", map[string]interface{}{"A": 2})

	value, ok := stack.resolve("A")
	require.True(t, ok)
	assert.Equal(t, 2, value)

	value, ok = stack.resolve("B")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = stack.resolve("C")
	assert.False(t, ok)

	assert.True(t, stack.remove("2"))
	assert.False(t, stack.remove("2"))
	value, _ = stack.resolve("A")
	assert.Equal(t, 1, value)
}
