package mqttclient

const defaultReceiveMaximum = 65535

// FlowController counts unacknowledged QoS 1 and 2 PUBLISH packets against
// a Receive Maximum. The client uses one for the server's limit on what it
// sends and one for its own advertised limit on what it receives.
// It is owned by the connection loop and is not safe for concurrent use.
type FlowController struct {
	maximum  uint16
	inFlight int
}

// NewFlowController creates a controller. A maximum of 0 means 65535.
func NewFlowController(maximum uint16) *FlowController {
	f := &FlowController{}
	f.SetMaximum(maximum)
	return f
}

// Maximum returns the current Receive Maximum.
func (f *FlowController) Maximum() uint16 {
	return f.maximum
}

// SetMaximum updates the Receive Maximum, typically from CONNACK.
func (f *FlowController) SetMaximum(maximum uint16) {
	if maximum == 0 {
		maximum = defaultReceiveMaximum
	}
	f.maximum = maximum
}

// InFlight returns the number of unacknowledged messages.
func (f *FlowController) InFlight() int {
	return f.inFlight
}

// Available returns the remaining quota.
func (f *FlowController) Available() int {
	return max(int(f.maximum)-f.inFlight, 0)
}

// TryAcquire takes one unit of quota if any is left.
func (f *FlowController) TryAcquire() bool {
	if f.inFlight >= int(f.maximum) {
		return false
	}
	f.inFlight++
	return true
}

// Acquire takes one unit of quota even when none is left. Flows resent on
// session resume were already in flight and must be counted.
func (f *FlowController) Acquire() {
	f.inFlight++
}

// Release returns one unit of quota.
func (f *FlowController) Release() {
	if f.inFlight > 0 {
		f.inFlight--
	}
}

// Reset returns all quota.
func (f *FlowController) Reset() {
	f.inFlight = 0
}
