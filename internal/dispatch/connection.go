// Package dispatch implements the per-connection read loop: admission,
// request decoding, and routing to the domain handlers in
// internal/handlers.
package dispatch

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/transport"
	"github.com/packetbbs/core/internal/wireproto"
)

var (
	baseCallsignRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}$`)
	fullCallsignRe = regexp.MustCompile(`^[A-Z0-9]{1,6}(-[0-9]{1,2})?$`)
)

// SplitCallsign strips a trailing "-SSID" (0..15) from a full callsign and
// returns the base. ok is false if the callsign doesn't match the required
// shape — uppercase, letter-led base of up to 6 characters, SSID 0..15.
// Lowercase input is rejected, not folded; normalisation is the store
// layer's job once identity is established.
func SplitCallsign(full string) (base string, ssid int, ok bool) {
	full = strings.TrimSpace(full)
	if !fullCallsignRe.MatchString(full) {
		return "", 0, false
	}
	if i := strings.IndexByte(full, '-'); i >= 0 {
		base = full[:i]
		n, err := strconv.Atoi(full[i+1:])
		if err != nil || n > 15 {
			return "", 0, false
		}
		ssid = n
	} else {
		base = full
	}
	return base, ssid, baseCallsignRe.MatchString(base)
}

// Connection tracks one accepted transport and the decode/admission state
// the dispatcher needs across its lifetime.
type Connection struct {
	Transport transport.Transport
	Callsign  string // base callsign, uppercase

	mu      sync.Mutex
	closing bool
	unpack  wireproto.Unpacker
}

// Closing reports whether this connection has been marked for a polite
// close (e.g. a blacklisted caller).
func (c *Connection) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// MarkClosing flags the connection closing and schedules a forced close
// after a 5 second grace window if it hasn't disconnected by then.
func (c *Connection) MarkClosing() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	go func() {
		time.Sleep(5 * time.Second)
		if c.Transport.State() == transport.StateConnected {
			if err := c.Transport.Close(); err != nil {
				log.Warn().Err(err).Str("callsign", c.Callsign).Msg("dispatch: force-close after grace window")
			}
		}
	}()
}

// Send writes a response if the connection isn't closing; a closing
// connection silently drops outbound traffic.
func (c *Connection) Send(resp []byte) error {
	if c.Closing() {
		return nil
	}
	return c.Transport.SendData(resp)
}
