package modsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankIndexesByTypeAndAddress(t *testing.T) {
	bank := NewBank()
	bank.Put(Register{Address: 0x64, RegisterType: "holding", Value: 7})
	bank.Put(Register{Address: 0x64, RegisterType: "input", Value: 8})

	inx, ok := bank.Index("holding", 0x64)
	require.True(t, ok)
	assert.Equal(t, 0, inx)

	inx, ok = bank.Index("input", 0x64)
	require.True(t, ok)
	assert.Equal(t, 1, inx)

	_, ok = bank.Index("discrete", 0x64)
	assert.False(t, ok)
}

func TestBankGetReturnsLiveRegister(t *testing.T) {
	bank := NewBank()
	bank.Put(Register{Address: 0x64, RegisterType: "holding", Value: 7})

	reg, ok := bank.Get("holding", 0x64)
	require.True(t, ok)
	reg.Value = 42

	assert.Equal(t, uint16(42), bank.Registers()[0].Value)
}
