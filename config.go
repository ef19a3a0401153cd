package modsim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
)

type Config struct {
	Serials []Serial `json:"serial"`
}

type Serial struct {
	Url      string  `json:"url"`
	Timeout  int     `json:"timeout"`
	Speed    int     `json:"speed"`
	DataBits int     `json:"data_bits"`
	Parity   int     `json:"parity"`
	StopBits int     `json:"stop_bits"`
	Slaves   []Slave `json:"slaves"`
}

type Slave struct {
	Address   int              `json:"address,omitempty"`
	Type      string           `json:"type"`
	Registers []RegisterConfig `json:"registers,omitempty"`
	Actions   []ActionBinding  `json:"actions,omitempty"`
}

type RegisterConfig struct {
	Address uint16 `json:"address"`
	Type    string `json:"type"` // coil | discrete | input | holding
	Action  string `json:"action,omitempty"`
	Value   uint16 `json:"value"`
}

// ActionBinding binds a registered custom action to one holding register of a
// slave. Param is handed to the action verbatim on every invocation; its
// meaning is action-specific (seconds for write_hr_delay, a register value for
// read_hr_always_return_value).
type ActionBinding struct {
	Address uint16 `json:"address"`
	Action  string `json:"action"`
	Param   any    `json:"param"`
}

func LoadConfig(configPath string) (Config, error) {
	if !exists(path.Join(configPath, "config.json")) {
		return Config{}, fmt.Errorf("configuration file not found: %s", path.Join(configPath, "config.json"))
	}

	bb, err := os.ReadFile(path.Join(configPath, "config.json"))
	if err != nil {
		return Config{}, fmt.Errorf("error reading file: %w", err)
	}
	var config Config
	if err := json.NewDecoder(bytes.NewReader(bb)).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error decoding file: %w", err)
	}
	return config, nil
}

func exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil || !os.IsNotExist(err)
}
