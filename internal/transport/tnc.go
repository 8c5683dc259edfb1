package transport

// TNCLink is the third-party AX.25 library interface this package
// consumes. It is declared here, narrowly, so the real driver is
// swappable and so tests can supply a fake.
type TNCLink interface {
	SendData(payload []byte) error
	Close() error
}

// TNC wraps a TNCLink, exposing the shared Transport contract. The
// dispatcher is agnostic to anything below the wire envelope; TNC only
// adds the call_from/call_to remote-callsign bookkeeping.
type TNC struct {
	base
	link     TNCLink
	callFrom string
	callTo   string
	incoming bool // true if this connection was accepted, false if dialed out
}

// NewTNC wraps link for an inbound connection (remote = callFrom) or an
// outbound one (remote = callTo).
func NewTNC(link TNCLink, callFrom, callTo string, incoming bool) *TNC {
	return &TNC{base: newBase(DefaultMTU), link: link, callFrom: callFrom, callTo: callTo, incoming: incoming}
}

func (t *TNC) RemoteCallsign() string {
	if t.incoming {
		return t.callFrom
	}
	return t.callTo
}

// Connected is invoked by the driver's connect callback.
func (t *TNC) Connected() { t.fireConnected() }

// Disconnected is invoked by the driver's disconnect callback.
func (t *TNC) Disconnected() { t.fireDisconnected() }

// Received is invoked by the driver's data callback.
func (t *TNC) Received(data []byte) { t.fireReceive(data) }

func (t *TNC) SendData(payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.State() != StateConnected {
		return errNotConnected
	}
	for _, c := range t.chunk(payload) {
		if err := t.link.SendData(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *TNC) Close() error {
	t.setState(StateDisconnecting)
	err := t.link.Close()
	t.fireDisconnected()
	return err
}
