package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rwirdemann/modsim"
	"github.com/simonvetter/modbus"
)

// Adapter wraps a modbus client for polling and manipulating a running
// simulator from the outside, e.g. by the cockpit.
type Adapter struct {
	client *modbus.ModbusClient
}

func NewAdapter(serial modsim.Serial) (Adapter, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      serial.Url,
		Speed:    uint(serial.Speed),
		DataBits: uint(serial.DataBits),
		Parity:   uint(serial.Parity),
		StopBits: uint(serial.StopBits),
		Timeout:  time.Duration(serial.Timeout) * time.Millisecond,
	})
	if err != nil {
		return Adapter{}, fmt.Errorf("create client: %w", err)
	}
	if err = client.Open(); err != nil {
		return Adapter{}, fmt.Errorf("open connection: %w", err)
	}

	return Adapter{client: client}, nil
}

func (a Adapter) Close() {
	_ = a.client.Close()
}

// ReadRegister polls the current values of the given registers and returns
// the ones that answered.
func (a Adapter) ReadRegister(register []modsim.Register) []modsim.Register {
	var rr []modsim.Register
	for _, r := range register {
		if err := a.client.SetUnitId(r.SlaveAddress); err != nil {
			slog.Error("error setting unit id", "err", err)
			continue
		}

		switch r.RegisterType {
		case "holding":
			v, err := a.client.ReadRegister(r.Address, modbus.HOLDING_REGISTER)
			if err != nil {
				slog.Error("error reading holding register", "err", err)
				continue
			}
			r.Value = v
		case "input":
			v, err := a.client.ReadRegister(r.Address, modbus.INPUT_REGISTER)
			if err != nil {
				slog.Error("error reading input register", "err", err)
				continue
			}
			r.Value = v
		case "discrete":
			b, err := a.client.ReadDiscreteInput(r.Address)
			if err != nil {
				slog.Error("error reading discrete input", "err", err)
				continue
			}
			r.Value = 0
			if b {
				r.Value = 1
			}
		default:
			slog.Error("unknown register type", "type", r.RegisterType)
			continue
		}
		rr = append(rr, r)
	}
	return rr
}

// WriteRegister writes the value of a single holding register or coil.
func (a Adapter) WriteRegister(r modsim.Register) error {
	if err := a.client.SetUnitId(r.SlaveAddress); err != nil {
		return fmt.Errorf("set unit id: %w", err)
	}

	switch r.RegisterType {
	case "holding":
		if err := a.client.WriteRegister(r.Address, r.Value); err != nil {
			return err
		}
	case "coil":
		if err := a.client.WriteCoil(r.Address, r.Value != 0); err != nil {
			return err
		}
	default:
		return fmt.Errorf("register type not writable: %s", r.RegisterType)
	}
	return nil
}
