package modsim

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Append(string) {}

func testSerial() Serial {
	return Serial{
		Url: "tcp://127.0.0.1:0",
		Slaves: []Slave{{
			Address: 1,
			Type:    "trafo",
			Registers: []RegisterConfig{
				{Address: 0x64, Type: "holding", Value: 7},
				{Address: 0x65, Type: "holding", Value: 1},
				{Address: 0x10, Type: "discrete", Value: 1},
			},
			Actions: []ActionBinding{
				{Address: 0x64, Action: "read_hr_always_return_value", Param: 42.0},
				{Address: 0x65, Action: "write_hr_delay", Param: 0.1},
			},
		}},
	}
}

func startServer(t *testing.T, serial Serial) (*ModbusServer, net.Conn) {
	t.Helper()
	s, err := NewConfiguredServer(serial, NewRegistry(), nopLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	s.Connect(1)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return s, conn
}

// roundtrip sends a single request frame and reads the response frame.
func roundtrip(t *testing.T, conn net.Conn, unitId uint8, fc uint8, payload []byte) *Request {
	t.Helper()
	return roundtripTxn(t, conn, 0x01, unitId, fc, payload)
}

func roundtripTxn(t *testing.T, conn net.Conn, txnId uint16, unitId uint8, fc uint8, payload []byte) *Request {
	t.Helper()
	frame := uint16ToBytes(BIG_ENDIAN, txnId)
	frame = append(frame, 0x00, 0x00)
	frame = append(frame, uint16ToBytes(BIG_ENDIAN, uint16(2+len(payload)))...)
	frame = append(frame, unitId, fc)
	frame = append(frame, payload...)
	_, err := conn.Write(frame)
	require.NoError(t, err)

	header := make([]byte, mbapHeaderLength)
	_, err = io.ReadFull(conn, header)
	require.NoError(t, err)
	// the response must echo the transaction id of its request
	require.Equal(t, txnId, bytesToUint16(BIG_ENDIAN, header[0:2]))
	pdu := make([]byte, int(bytesToUint16(BIG_ENDIAN, header[4:6]))-1)
	_, err = io.ReadFull(conn, pdu)
	require.NoError(t, err)
	return &Request{UnitId: header[6], FunctionCode: pdu[0], Payload: pdu[1:]}
}

func TestReadHoldingRegisterTriggersOverrideAction(t *testing.T) {
	_, conn := startServer(t, testSerial())

	// the stored value is 7 but the bound action reports 42
	res := roundtrip(t, conn, 1, fcReadHoldingRegisters, []byte{0x00, 0x64, 0x00, 0x01})
	require.Equal(t, fcReadHoldingRegisters, res.FunctionCode)
	assert.Equal(t, []byte{0x02, 0x00, 0x2a}, res.Payload)
}

func TestWriteSingleRegisterTriggersDelayAction(t *testing.T) {
	s, conn := startServer(t, testSerial())

	start := time.Now()
	res := roundtrip(t, conn, 1, fcWriteSingleRegister, []byte{0x00, 0x65, 0x00, 0x0c})
	require.Equal(t, fcWriteSingleRegister, res.FunctionCode)
	assert.Equal(t, []byte{0x00, 0x65, 0x00, 0x0c}, res.Payload)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	s.mu.Lock()
	reg, ok := s.banks[1].Get("holding", 0x65)
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, uint16(0x0c), reg.Value)

	// the second write is suppressed and replies without delay
	start = time.Now()
	res = roundtrip(t, conn, 1, fcWriteSingleRegister, []byte{0x00, 0x65, 0x00, 0x0d})
	require.Equal(t, fcWriteSingleRegister, res.FunctionCode)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestConcurrentWriteClients(t *testing.T) {
	s, first := startServer(t, testSerial())
	second, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	require.NoError(t, second.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = second.Close() })

	var wg sync.WaitGroup
	for i, conn := range []net.Conn{first, second} {
		wg.Add(1)
		go func(base uint16, conn net.Conn) {
			defer wg.Done()
			for j := uint16(0); j < 3; j++ {
				res := roundtripTxn(t, conn, base+j, 1, fcWriteSingleRegister, []byte{0x00, 0x65, 0x00, 0x0c})
				assert.Equal(t, fcWriteSingleRegister, res.FunctionCode)
			}
		}(uint16(100*(i+1)), conn)
	}
	wg.Wait()

	// six serialized matching writes alternate delay and suppression, so the
	// action ends up armed again
	s.mu.Lock()
	defer s.mu.Unlock()
	action := s.bindings[1][0x65].action.(*WriteDelay)
	assert.False(t, action.actionPerformed)
}

func TestReadDiscreteInputServedFromBank(t *testing.T) {
	_, conn := startServer(t, testSerial())

	res := roundtrip(t, conn, 1, fcReadDiscreteInputs, []byte{0x00, 0x10, 0x00, 0x01})
	require.Equal(t, fcReadDiscreteInputs, res.FunctionCode)
	assert.Equal(t, []byte{0x01, 0x01}, res.Payload)
}

func TestReadUnmappedAddressRepliesIllegalDataAddress(t *testing.T) {
	_, conn := startServer(t, testSerial())

	res := roundtrip(t, conn, 1, fcReadHoldingRegisters, []byte{0x0f, 0x00, 0x00, 0x01})
	assert.Equal(t, fcReadHoldingRegisters|0x80, res.FunctionCode)
	assert.Equal(t, []byte{exIllegalDataAddress}, res.Payload)
}

func TestReadOversizedQuantityRepliesIllegalDataValue(t *testing.T) {
	_, conn := startServer(t, testSerial())

	// 126 registers exceed the PDU limit of 125
	res := roundtrip(t, conn, 1, fcReadHoldingRegisters, []byte{0x00, 0x64, 0x00, 0x7e})
	assert.Equal(t, fcReadHoldingRegisters|0x80, res.FunctionCode)
	assert.Equal(t, []byte{exIllegalDataValue}, res.Payload)
}

func TestShortPayloadRepliesIllegalDataValue(t *testing.T) {
	_, conn := startServer(t, testSerial())

	res := roundtrip(t, conn, 1, fcReadHoldingRegisters, []byte{0x00, 0x64})
	assert.Equal(t, fcReadHoldingRegisters|0x80, res.FunctionCode)
	assert.Equal(t, []byte{exIllegalDataValue}, res.Payload)

	// the connection survives the malformed request
	res = roundtrip(t, conn, 1, fcReadHoldingRegisters, []byte{0x00, 0x64, 0x00, 0x01})
	assert.Equal(t, []byte{0x02, 0x00, 0x2a}, res.Payload)
}

func TestUnsupportedFunctionCodeRepliesIllegalFunction(t *testing.T) {
	_, conn := startServer(t, testSerial())

	res := roundtrip(t, conn, 1, 0x10, []byte{0x00, 0x64, 0x00, 0x01, 0x02, 0x00, 0x01})
	assert.Equal(t, uint8(0x10|0x80), res.FunctionCode)
	assert.Equal(t, []byte{exIllegalFunction}, res.Payload)
}

func TestActionPanicDropsConnection(t *testing.T) {
	serial := testSerial()
	serial.Slaves[0].Actions[0].Param = "boom"
	_, conn := startServer(t, serial)

	frame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, fcReadHoldingRegisters, 0x00, 0x64, 0x00, 0x01}
	_, err := conn.Write(frame)
	require.NoError(t, err)

	_, err = io.ReadFull(conn, make([]byte, mbapHeaderLength))
	assert.Error(t, err)
}

func TestNewConfiguredServerRejectsUnknownAction(t *testing.T) {
	serial := testSerial()
	serial.Slaves[0].Actions[0].Action = "write_hr_crash"

	_, err := NewConfiguredServer(serial, NewRegistry(), nopLogger{})
	require.EqualError(t, err, "slave 1: unknown action: write_hr_crash")
}

func TestNewConfiguredServerRejectsBindingWithoutRegister(t *testing.T) {
	serial := testSerial()
	serial.Slaves[0].Actions[0].Address = 0xff

	_, err := NewConfiguredServer(serial, NewRegistry(), nopLogger{})
	require.Error(t, err)
}

func TestBindRejectsUnknownSlave(t *testing.T) {
	s := NewModbusServer("tcp://127.0.0.1:0", nopLogger{})
	require.NotNil(t, s)
	err := s.Bind(9, 0x64, ReadReturnValue{}, 42.0)
	require.EqualError(t, err, "unknown slave: 9")
}
