package modsim

type Register struct {
	SlaveAddress uint8  // the slave address to which this register belongs
	Address      uint16 // the address of this register
	RegisterType string // coil | discrete | input | holding
	Action       string // read | write
	Value        uint16
}

// Bank holds the registers of a single slave in definition order together
// with an address lookup per register type. The ordered slice is what custom
// actions receive and mutate; the lookup maps a request address to the index
// into that slice.
type Bank struct {
	registers []*Register
	index     map[string]map[uint16]int
}

func NewBank() *Bank {
	return &Bank{index: make(map[string]map[uint16]int)}
}

// Put appends a register to the bank and indexes it by type and address. A
// register that shadows an earlier one with the same type and address takes
// over its address slot; the earlier register stays in the slice.
func (b *Bank) Put(r Register) *Register {
	reg := &r
	if _, ok := b.index[r.RegisterType]; !ok {
		b.index[r.RegisterType] = make(map[uint16]int)
	}
	b.index[r.RegisterType][r.Address] = len(b.registers)
	b.registers = append(b.registers, reg)
	return reg
}

// Registers returns the live register slice in definition order.
func (b *Bank) Registers() []*Register {
	return b.registers
}

// Index returns the slice index of the register with the given type and
// address.
func (b *Bank) Index(registerType string, address uint16) (int, bool) {
	inx, ok := b.index[registerType][address]
	return inx, ok
}

func (b *Bank) Get(registerType string, address uint16) (*Register, bool) {
	inx, ok := b.Index(registerType, address)
	if !ok {
		return nil, false
	}
	return b.registers[inx], true
}
