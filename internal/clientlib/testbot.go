package clientlib

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/transport"
)

// Step is one scripted action a virtual user performs against a Client.
// Returning an error aborts the script.
type Step func(ctx context.Context, c *Client) error

// RunScript drives client through steps in order, pausing interval between
// each — a periodic tick performing the next scripted BBS request. Useful
// for directory-transport integration tests and demo traffic generators;
// it returns after the last step or when ctx is cancelled.
func RunScript(ctx context.Context, callsign string, client *Client, interval time.Duration, steps []Step) error {
	if err := client.WaitConnected(ctx); err != nil {
		return fmt.Errorf("clientlib: %s: wait connected: %w", callsign, err)
	}
	log.Info().Str("callsign", callsign).Int("steps", len(steps)).Msg("clientlib: virtual user connected")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := step(ctx, client); err != nil {
			return fmt.Errorf("clientlib: %s: step %d: %w", callsign, i, err)
		}
	}
	return nil
}

// DialLoopback builds a Client and its server-side transport over an
// in-memory Loopback pair, for tests that need a live client without a
// real TNC or directory rendezvous. The transports are NOT yet connected:
// attach the server side first (e.g. via dispatch.Dispatcher.Attach), then
// call Connect on it so the server's admission logic observes the connect
// event.
func DialLoopback(clientCallsign, serverCallsign string) (*Client, *transport.Loopback) {
	clientSide, serverSide := transport.NewLoopbackPair(clientCallsign, serverCallsign)
	c := New(clientSide)
	return c, serverSide
}
