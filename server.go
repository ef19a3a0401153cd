package modsim

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Append(text string)
}

// ModbusServer represents a TCP based modbus server with multiple slaves
// connected to it. Each slave owns a register bank; holding registers can
// carry custom action bindings that are invoked while the request is served.
// Every client connection is handled on its own goroutine; mu serializes
// request serving, so banks, bindings and action state see one request at a
// time.
type ModbusServer struct {
	url         string
	logger      Logger
	tcpListener net.Listener
	mu          sync.Mutex
	slaves      map[int]bool
	banks       map[uint8]*Bank
	bindings    map[uint8]map[uint16]binding
}

// binding ties an action instance and its configured param to a register
// index of a slave's bank.
type binding struct {
	inx    int
	action Action
	param  any
}

func NewModbusServer(url string, logger Logger) *ModbusServer {
	splitURL := strings.SplitN(url, "://", 2)
	if len(splitURL) == 2 {
		return &ModbusServer{
			url:      splitURL[1],
			logger:   logger,
			slaves:   make(map[int]bool),
			banks:    make(map[uint8]*Bank),
			bindings: make(map[uint8]map[uint16]binding),
		}
	}
	return nil
}

// NewConfiguredServer builds a server for one serial config entry: slaves and
// their register seeds are installed, action bindings are resolved by name
// against registry. An unknown action name or a binding to a missing register
// is a configuration error.
func NewConfiguredServer(serial Serial, registry *Registry, logger Logger) (*ModbusServer, error) {
	s := NewModbusServer(serial.Url, logger)
	if s == nil {
		return nil, fmt.Errorf("invalid server url: %s", serial.Url)
	}
	for _, slave := range serial.Slaves {
		bank := NewBank()
		for _, r := range slave.Registers {
			bank.Put(Register{
				SlaveAddress: uint8(slave.Address),
				Address:      r.Address,
				RegisterType: r.Type,
				Action:       r.Action,
				Value:        r.Value,
			})
		}
		s.AddSlave(uint8(slave.Address), bank)

		for _, b := range slave.Actions {
			action, err := registry.Lookup(b.Action)
			if err != nil {
				return nil, fmt.Errorf("slave %d: %w", slave.Address, err)
			}
			if err := s.Bind(uint8(slave.Address), b.Address, action, b.Param); err != nil {
				return nil, fmt.Errorf("slave %d: %w", slave.Address, err)
			}
		}
	}
	return s, nil
}

// AddSlave installs the register bank of a slave. The slave starts offline;
// call Connect to put it on the bus.
func (s *ModbusServer) AddSlave(address uint8, bank *Bank) {
	s.banks[address] = bank
}

// Bind attaches an action instance to the holding register with the given
// address. The instance is private to this binding, so stateful actions keep
// their state per register.
func (s *ModbusServer) Bind(slave uint8, address uint16, action Action, param any) error {
	bank, ok := s.banks[slave]
	if !ok {
		return fmt.Errorf("unknown slave: %d", slave)
	}
	inx, ok := bank.Index("holding", address)
	if !ok {
		return fmt.Errorf("no holding register 0x%X to bind action to", address)
	}
	if _, ok := s.bindings[slave]; !ok {
		s.bindings[slave] = make(map[uint16]binding)
	}
	s.bindings[slave][address] = binding{inx: inx, action: action, param: param}
	return nil
}

func (s *ModbusServer) Start() (err error) {
	s.tcpListener, err = net.Listen("tcp", s.url)
	if err == nil {
		go s.acceptTCPClients()
	}
	return
}

// Addr returns the listener address, useful when the configured url carries
// port 0.
func (s *ModbusServer) Addr() string {
	return s.tcpListener.Addr().String()
}

func (s *ModbusServer) Connect(slaveID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[slaveID] = true
}

func (s *ModbusServer) Disconnect(slaveID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[slaveID] = false
}

func (s *ModbusServer) online(slaveID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slaves[slaveID]
}

func (s *ModbusServer) acceptTCPClients() {
	for {
		sock, err := s.tcpListener.Accept()
		if err != nil {
			slog.Warn("failed to accept client connection", "err", err)
			return
		}
		ts := time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s: client %s connected", ts, sock.RemoteAddr()))
		go s.handleClient(sock)
	}
}

type Endianness uint
type Error string

const (
	mbapHeaderLength  int = 7
	maxTCPFrameLength int = 260

	// endianness of 16-bit registers
	BIG_ENDIAN    Endianness = 1
	LITTLE_ENDIAN Endianness = 2

	exIllegalFunction    uint8 = 0x01
	exIllegalDataAddress uint8 = 0x02
	exIllegalDataValue   uint8 = 0x03

	// a PDU may carry at most 125 registers (0x7D)
	maxQuantity uint16 = 125

	ErrProtocolError     Error = "protocol error"
	ErrUnknownProtocolId Error = "unknown protocol identifier"
)

// Error implements the error interface.
func (me Error) Error() (s string) {
	s = string(me)
	return
}

// Request is the decoded modbus PDU of an incoming frame. It is handed to
// custom actions as the per-request context.
type Request struct {
	UnitId       uint8
	FunctionCode uint8
	Payload      []byte
}

func (s *ModbusServer) handleClient(sock net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("closing connection after panic in request handler", "err", r)
		}
		_ = sock.Close()
	}()

	for {
		req, txnId, err := s.readMBAPFrame(sock)
		if err != nil {
			ts := time.Now().Format(time.DateTime)
			s.logger.Append(fmt.Sprintf("%s: client %s disconnected", ts, sock.RemoteAddr()))
			return
		}
		ts := time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s req: slave id: %d fc: %X payload: % X", ts, req.UnitId, req.FunctionCode, req.Payload))

		if !s.online(int(req.UnitId)) {
			ts := time.Now().Format(time.DateTime)
			s.logger.Append(fmt.Sprintf("%s req: slave id: %d is offline", ts, req.UnitId))
			continue
		}

		res := s.serve(req)
		ts = time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s res: slave id: %d fc: %X payload: % X", ts, res.UnitId, res.FunctionCode, res.Payload))

		// the response carries the transaction id of its request
		if _, err := sock.Write(s.assembleMBAPFrame(txnId, res)); err != nil {
			return
		}
	}
}

// serve builds the response PDU for a request whose slave is online. Custom
// actions bound to a targeted holding register run before the default reply is
// assembled, so they can stall the reply or rewrite the register value the
// reply carries. Serving holds the server lock, so a delaying action stalls
// every connection for its duration.
func (s *ModbusServer) serve(req *Request) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	bank := s.banks[req.UnitId]
	if bank == nil {
		bank = NewBank()
	}

	// the handled function codes all carry address and quantity resp. value
	switch req.FunctionCode {
	case fcReadDiscreteInputs, fcReadHoldingRegisters, fcWriteSingleRegister:
		if len(req.Payload) < 4 {
			return exceptionResponse(req, exIllegalDataValue)
		}
	}

	switch req.FunctionCode {
	case fcReadDiscreteInputs:
		addr := bytesToUint16(BIG_ENDIAN, req.Payload[0:2])
		quantity := bytesToUint16(BIG_ENDIAN, req.Payload[2:4])

		// seeded inputs are served from the bank, everything else flickers
		var values = make([]bool, quantity)
		for i := 0; i < int(quantity); i++ {
			if reg, ok := bank.Get("discrete", addr+uint16(i)); ok {
				values[i] = reg.Value != 0
			} else {
				values[i] = rand.Intn(2) == 1
			}
		}
		resCount := len(values)

		res := &Request{
			UnitId:       req.UnitId,
			FunctionCode: req.FunctionCode,
			Payload:      []byte{0},
		}
		// byte count (1 byte for 8 inputs)
		res.Payload[0] = uint8(resCount / 8)
		if resCount%8 != 0 {
			res.Payload[0]++
		}
		res.Payload = append(res.Payload, encodeBools(values)...)
		return res

	case fcReadHoldingRegisters:
		addr := bytesToUint16(BIG_ENDIAN, req.Payload[0:2])
		quantity := bytesToUint16(BIG_ENDIAN, req.Payload[2:4])
		if quantity == 0 || quantity > maxQuantity {
			return exceptionResponse(req, exIllegalDataValue)
		}

		res := &Request{
			UnitId:       req.UnitId,
			FunctionCode: req.FunctionCode,
			Payload:      []byte{uint8(2 * quantity)},
		}
		for i := 0; i < int(quantity); i++ {
			a := addr + uint16(i)
			s.invokeAction(bank, req, a)
			reg, ok := bank.Get("holding", a)
			if !ok {
				return exceptionResponse(req, exIllegalDataAddress)
			}
			res.Payload = append(res.Payload, uint16ToBytes(BIG_ENDIAN, reg.Value)...)
		}
		return res

	case fcWriteSingleRegister:
		addr := bytesToUint16(BIG_ENDIAN, req.Payload[0:2])
		value := bytesToUint16(BIG_ENDIAN, req.Payload[2:4])

		s.invokeAction(bank, req, addr)
		reg, ok := bank.Get("holding", addr)
		if !ok {
			return exceptionResponse(req, exIllegalDataAddress)
		}
		reg.Value = value

		// the response echoes address and value of the request
		return &Request{
			UnitId:       req.UnitId,
			FunctionCode: req.FunctionCode,
			Payload:      req.Payload[0:4],
		}

	default:
		return exceptionResponse(req, exIllegalFunction)
	}
}

// invokeAction runs the action bound to the holding register with the given
// address, if any. Whatever the action raises propagates to handleClient.
func (s *ModbusServer) invokeAction(bank *Bank, req *Request, address uint16) {
	b, ok := s.bindings[req.UnitId][address]
	if !ok {
		return
	}
	b.action.Invoke(bank.Registers(), b.inx, req, req.FunctionCode, b.param)
}

func exceptionResponse(req *Request, exceptionCode uint8) *Request {
	return &Request{
		UnitId:       req.UnitId,
		FunctionCode: req.FunctionCode | 0x80,
		Payload:      []byte{exceptionCode},
	}
}

// Reads an entire frame (MBAP header + modbus PDU) from the socket.
func (s *ModbusServer) readMBAPFrame(sock net.Conn) (p *Request, txnId uint16, err error) {
	var rxbuf []byte
	var bytesNeeded int
	var protocolId uint16
	var unitId uint8

	// read the MBAP header
	rxbuf = make([]byte, mbapHeaderLength)
	_, err = io.ReadFull(sock, rxbuf)
	if err != nil {
		return
	}

	// decode the transaction identifier
	txnId = bytesToUint16(BIG_ENDIAN, rxbuf[0:2])
	// decode the protocol identifier
	protocolId = bytesToUint16(BIG_ENDIAN, rxbuf[2:4])
	// store the source unit id
	unitId = rxbuf[6]

	// determine how many more bytes we need to read
	bytesNeeded = int(bytesToUint16(BIG_ENDIAN, rxbuf[4:6]))

	// the byte count includes the unit ID field, which we already have
	bytesNeeded--

	// never read more than the max allowed frame length
	if bytesNeeded+mbapHeaderLength > maxTCPFrameLength {
		err = ErrProtocolError
		return
	}

	// an MBAP length of 0 is illegal
	if bytesNeeded <= 0 {
		err = ErrProtocolError
		return
	}

	// read the PDU
	rxbuf = make([]byte, bytesNeeded)
	_, err = io.ReadFull(sock, rxbuf)
	if err != nil {
		return
	}

	// validate the protocol identifier
	if protocolId != 0x0000 {
		err = ErrUnknownProtocolId
		slog.Warn("received unexpected protocol id", "protocolId", protocolId)
		return
	}

	// store unit id, function code and payload in the request object
	p = &Request{
		UnitId:       unitId,
		FunctionCode: rxbuf[0],
		Payload:      rxbuf[1:],
	}

	return
}

// Turns a PDU into an MBAP frame (MBAP header + PDU) and returns it as bytes.
func (s *ModbusServer) assembleMBAPFrame(txnId uint16, p *Request) (payload []byte) {
	// transaction identifier
	payload = uint16ToBytes(BIG_ENDIAN, txnId)
	// protocol identifier (always 0x0000)
	payload = append(payload, 0x00, 0x00)
	// length (covers unit identifier + function code + payload fields)
	payload = append(payload, uint16ToBytes(BIG_ENDIAN, uint16(2+len(p.Payload)))...)
	// unit identifier
	payload = append(payload, p.UnitId)
	// function code
	payload = append(payload, p.FunctionCode)
	// payload
	payload = append(payload, p.Payload...)

	return
}

func bytesToUint16(endianness Endianness, in []byte) (out uint16) {
	switch endianness {
	case BIG_ENDIAN:
		out = binary.BigEndian.Uint16(in)
	case LITTLE_ENDIAN:
		out = binary.LittleEndian.Uint16(in)
	}

	return
}

func uint16ToBytes(endianness Endianness, in uint16) (out []byte) {
	out = make([]byte, 2)
	switch endianness {
	case BIG_ENDIAN:
		binary.BigEndian.PutUint16(out, in)
	case LITTLE_ENDIAN:
		binary.LittleEndian.PutUint16(out, in)
	}

	return
}

func encodeBools(in []bool) (out []byte) {
	var byteCount uint
	var i uint

	byteCount = uint(len(in)) / 8
	if len(in)%8 != 0 {
		byteCount++
	}

	out = make([]byte, byteCount)
	for i = 0; i < uint(len(in)); i++ {
		if in[i] {
			out[i/8] |= (0x01 << (i % 8))
		}
	}

	return
}
