package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/metrics"
	"github.com/packetbbs/core/internal/transport"
	"github.com/packetbbs/core/internal/wireproto"
)

// Handler answers one request against the store, on behalf of conn.
type Handler func(req wireproto.Request, conn *Connection, store *bbsstore.Store) (wireproto.Response, error)

// Dispatcher owns the store and the root-path routing table, and wires
// itself onto every accepted Transport via Attach. QuickHint is called for
// every decoded request with whether it carries a `quick` var, so the job
// worker (4.F) can adjust its poll interval.
type Dispatcher struct {
	Store     *bbsstore.Store
	Routes    map[string]Handler // "" | user | bulletin | message | object | job
	QuickHint func(quick bool)
}

// New builds a Dispatcher with an empty routing table; callers register
// handlers via Routes before Attach-ing any connection.
func New(store *bbsstore.Store) *Dispatcher {
	return &Dispatcher{Store: store, Routes: map[string]Handler{}, QuickHint: func(bool) {}}
}

// Attach wires the dispatcher's admission and request-handling logic onto
// t, returning the Connection tracking its state.
func (d *Dispatcher) Attach(t transport.Transport) *Connection {
	conn := &Connection{Transport: t}

	t.OnConnected(func() {
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()
		d.onConnected(conn)
	})
	t.OnDisconnected(func() { metrics.ConnectionsActive.Dec() })
	t.OnReceive(func(chunk []byte) { d.onReceive(conn, chunk) })
	return conn
}

func (d *Dispatcher) onConnected(conn *Connection) {
	base, _, ok := SplitCallsign(conn.Transport.RemoteCallsign())
	if !ok {
		log.Warn().Str("remote", conn.Transport.RemoteCallsign()).Msg("dispatch: malformed callsign, closing")
		conn.MarkClosing()
		return
	}
	conn.Callsign = base

	blocked := false
	err := d.Store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		blocked, err = tx.IsBlacklisted(base)
		if err != nil || blocked {
			return err
		}
		if _, err := tx.EnsureUser(base); err != nil {
			return err
		}
		return tx.TouchLastSeen(base)
	})
	if err != nil {
		log.Error().Err(err).Str("callsign", base).Msg("dispatch: admission transaction failed")
		return
	}
	if blocked {
		conn.MarkClosing()
	}
}

func (d *Dispatcher) onReceive(conn *Connection, chunk []byte) {
	envelopes, err := conn.unpack.Feed(chunk)
	for _, env := range envelopes {
		d.handleEnvelope(conn, env)
	}
	if err != nil {
		log.Warn().Err(err).Str("callsign", conn.Callsign).Msg("dispatch: bad frame, diagnostic byte string sent")
		_ = conn.Send([]byte("BadFrame"))
	}
}

func (d *Dispatcher) handleEnvelope(conn *Connection, env wireproto.Envelope) {
	req, err := env.AsRequest()
	if err != nil {
		log.Warn().Err(err).Str("callsign", conn.Callsign).Msg("dispatch: request parse failure")
		_ = conn.Send([]byte("BadRequest"))
		return
	}

	_, hasQuick := req.Vars["quick"]
	d.QuickHint(hasQuick)

	root := rootSegment(req.Path)
	start := time.Now()

	handler, ok := d.Routes[root]
	if !ok {
		resp, _ := wireproto.NewResponse(404, wireproto.Null())
		d.recordRequest(root, resp, start)
		d.respond(conn, req, resp)
		return
	}

	resp, err := handler(req, conn, d.Store)
	if err != nil {
		log.Error().Err(err).Str("callsign", conn.Callsign).Str("path", req.Path).Msg("dispatch: handler error")
		resp, _ = wireproto.NewResponse(500, wireproto.Null())
	}
	d.recordRequest(root, resp, start)
	d.respond(conn, req, resp)
}

func (d *Dispatcher) recordRequest(root string, resp wireproto.Response, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(root, strconv.Itoa(resp.Status)).Inc()
	metrics.RequestDuration.WithLabelValues(root).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) respond(conn *Connection, req wireproto.Request, resp wireproto.Response) {
	preferred := wireproto.CompressNone
	if c, ok := req.Vars["C"]; ok {
		if n, ok := c.AsInt(); ok {
			preferred = wireproto.Compression(byte(n))
		}
	}
	if err := conn.Send(wireproto.PackResponse(resp, preferred)); err != nil {
		log.Warn().Err(err).Str("callsign", conn.Callsign).Msg("dispatch: send response")
	}
}

// rootSegment extracts the first path segment, the routing key:
// "" | user | bulletin | message | object | job.
func rootSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
