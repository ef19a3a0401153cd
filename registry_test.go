package modsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupBuiltinActions(t *testing.T) {
	registry := NewRegistry()

	delay, err := registry.Lookup("write_hr_delay")
	require.NoError(t, err)
	assert.IsType(t, &WriteDelay{}, delay)

	override, err := registry.Lookup("read_hr_always_return_value")
	require.NoError(t, err)
	assert.IsType(t, ReadReturnValue{}, override)
}

func TestLookupUnknownAction(t *testing.T) {
	_, err := NewRegistry().Lookup("write_hr_crash")
	require.EqualError(t, err, "unknown action: write_hr_crash")
}

func TestLookupHandsOutFreshInstances(t *testing.T) {
	registry := NewRegistry()

	first, err := registry.Lookup("write_hr_delay")
	require.NoError(t, err)
	second, err := registry.Lookup("write_hr_delay")
	require.NoError(t, err)

	first.Invoke(holdingRegisters(7), 0, nil, fcWriteSingleRegister, 0.0)
	assert.True(t, first.(*WriteDelay).actionPerformed)
	assert.False(t, second.(*WriteDelay).actionPerformed)
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register("write_hr_delay", func() Action { return &WriteDelay{} })
	require.EqualError(t, err, "action already registered: write_hr_delay")
}

func TestRegisterCustomAction(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register("read_hr_noop", func() Action { return ReadReturnValue{} })
	require.NoError(t, err)

	action, err := registry.Lookup("read_hr_noop")
	require.NoError(t, err)
	assert.NotNil(t, action)
}
