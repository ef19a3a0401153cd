package modsim

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	content := `{
	  "serial": [{
	    "url": "tcp://127.0.0.1:1502",
	    "timeout": 1000,
	    "slaves": [{
	      "address": 1,
	      "type": "trafo",
	      "registers": [{"address": 100, "type": "holding", "action": "read", "value": 7}],
	      "actions": [{"address": 100, "action": "read_hr_always_return_value", "param": 42}]
	    }]
	  }]
	}`
	require.NoError(t, os.WriteFile(path.Join(dir, "config.json"), []byte(content), 0o644))

	config, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Len(t, config.Serials, 1)

	serial := config.Serials[0]
	assert.Equal(t, "tcp://127.0.0.1:1502", serial.Url)
	require.Len(t, serial.Slaves, 1)

	slave := serial.Slaves[0]
	assert.Equal(t, 1, slave.Address)
	require.Len(t, slave.Registers, 1)
	assert.Equal(t, uint16(100), slave.Registers[0].Address)
	assert.Equal(t, uint16(7), slave.Registers[0].Value)

	require.Len(t, slave.Actions, 1)
	assert.Equal(t, "read_hr_always_return_value", slave.Actions[0].Action)
	assert.Equal(t, float64(42), slave.Actions[0].Param)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}
