package modsim

import "time"

// Function codes the reference actions dispatch on.
const (
	fcReadDiscreteInputs   uint8 = 0x02
	fcReadHoldingRegisters uint8 = 0x03
	fcWriteSingleRegister  uint8 = 0x06
)

// Action is a custom behavior hooked into the request path of a simulated
// slave. The server invokes it once per matching request before assembling the
// default reply. An action may mutate registers[inx].Value, keep private state
// between invocations or deliberately block the calling goroutine. It does not
// validate inx; an out-of-range index or a param of the wrong dynamic type
// panics and surfaces at the server's call site.
type Action interface {
	Invoke(registers []*Register, inx int, req *Request, funcCode uint8, param any)
}

// WriteDelay delays the reply to a write single register request, but only on
// every other matching request: after a delay was performed the following
// invocation is suppressed and re-arms the action, whatever its function code
// is. param holds the delay in seconds.
type WriteDelay struct {
	actionPerformed bool
}

func (a *WriteDelay) Invoke(_ []*Register, _ int, _ *Request, funcCode uint8, param any) {
	if a.actionPerformed {
		a.actionPerformed = false
		return
	}

	if funcCode == fcWriteSingleRegister {
		time.Sleep(time.Duration(param.(float64) * float64(time.Second)))
		a.actionPerformed = true
	}
}

// ReadReturnValue replaces the stored value of a holding register with a fixed
// value on every read, regardless of what was written before. param holds the
// value to return.
type ReadReturnValue struct{}

func (ReadReturnValue) Invoke(registers []*Register, inx int, _ *Request, funcCode uint8, param any) {
	if funcCode == fcReadHoldingRegisters {
		registers[inx].Value = uint16(param.(float64))
	}
}
