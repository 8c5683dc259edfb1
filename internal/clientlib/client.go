// Package clientlib implements a typed wrapper over the wire protocol and
// transport abstraction, for tools and test clients that need to talk to
// the BBS as a radio peer rather than as the server: a connection that
// serialises one request/reply turn at a time, plus a scriptable virtual
// user used by integration tests and demos.
package clientlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/packetbbs/core/internal/transport"
	"github.com/packetbbs/core/internal/wireproto"
)

// Client is a typed request/response wrapper over one Transport. A single
// small mutex serialises "send then wait for reply" turns so callers never
// race on the same connection's one-at-a-time radio link.
type Client struct {
	t transport.Transport

	mu     sync.Mutex // serialises Do() turns
	unpack wireproto.Unpacker

	connMu    sync.Mutex
	connected bool
	connCh    chan struct{}

	pending chan wireproto.Response
}

// New wraps t, wiring the decode loop and connect/disconnect bookkeeping.
// Callers still need to bring the transport itself to a connected state
// (e.g. Loopback.Connect(), Directory.Run(), or the driver's own accept
// path for TNC).
func New(t transport.Transport) *Client {
	c := &Client{t: t, connCh: make(chan struct{}), pending: make(chan wireproto.Response, 1)}
	t.OnConnected(func() {
		c.connMu.Lock()
		if !c.connected {
			c.connected = true
			close(c.connCh)
		}
		c.connMu.Unlock()
	})
	t.OnReceive(func(chunk []byte) {
		envelopes, _ := c.unpack.Feed(chunk)
		for _, env := range envelopes {
			if resp, err := env.AsResponse(); err == nil {
				select {
				case c.pending <- resp:
				default:
					// Drop a response nobody is waiting for; a well-behaved
					// server only answers the single in-flight request.
				}
			}
		}
	})
	return c
}

// WaitConnected blocks until the underlying transport fires onConnected or
// ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.t.Close() }

// Do sends req and blocks for the matching response, serialising against
// any concurrent Do call on the same Client.
func (c *Client) Do(ctx context.Context, req wireproto.Request) (wireproto.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.t.SendData(wireproto.PackRequest(req, wireproto.CompressNone)); err != nil {
		return wireproto.Response{}, fmt.Errorf("clientlib: send: %w", err)
	}
	select {
	case resp := <-c.pending:
		return resp, nil
	case <-ctx.Done():
		return wireproto.Response{}, ctx.Err()
	}
}

// get/post/update/delete are thin verb helpers used by the typed wrappers
// below; vars may be nil.
func (c *Client) get(ctx context.Context, path string, vars map[string]wireproto.Value) (wireproto.Response, error) {
	return c.Do(ctx, newRequest(wireproto.MethodGET, path, vars, wireproto.Null()))
}

func (c *Client) post(ctx context.Context, path string, vars map[string]wireproto.Value, body wireproto.Value) (wireproto.Response, error) {
	return c.Do(ctx, newRequest(wireproto.MethodPOST, path, vars, body))
}

func (c *Client) update(ctx context.Context, path string, vars map[string]wireproto.Value, body wireproto.Value) (wireproto.Response, error) {
	return c.Do(ctx, newRequest(wireproto.MethodUPDATE, path, vars, body))
}

func (c *Client) del(ctx context.Context, path string, vars map[string]wireproto.Value) (wireproto.Response, error) {
	return c.Do(ctx, newRequest(wireproto.MethodDELETE, path, vars, wireproto.Null()))
}

func newRequest(m wireproto.Method, path string, vars map[string]wireproto.Value, body wireproto.Value) wireproto.Request {
	if vars == nil {
		vars = map[string]wireproto.Value{}
	}
	r := wireproto.Request{Method: m, Vars: vars, Body: body}
	r.SetPath(path)
	return r
}

// --- typed wrappers, one per domain handler --------------------------------

// Handshake performs the GET / request every client sends first.
func (c *Client) Handshake(ctx context.Context) (wireproto.Response, error) {
	return c.get(ctx, "/", nil)
}

// ListBulletins requests GET /bulletin, optionally capped at limit (0 = no cap).
func (c *Client) ListBulletins(ctx context.Context, limit int) (wireproto.Response, error) {
	vars := map[string]wireproto.Value{}
	if limit > 0 {
		vars["limit"] = wireproto.Int(int64(limit))
	}
	return c.get(ctx, "/bulletin", vars)
}

// PostBulletin requests POST /bulletin.
func (c *Client) PostBulletin(ctx context.Context, subject, body string) (wireproto.Response, error) {
	return c.post(ctx, "/bulletin", nil, wireproto.Map(map[string]wireproto.Value{
		"subject": wireproto.Str(subject),
		"body":    wireproto.Str(body),
	}))
}

// DeleteBulletin requests DELETE /bulletin/<id>.
func (c *Client) DeleteBulletin(ctx context.Context, id int64) (wireproto.Response, error) {
	return c.del(ctx, fmt.Sprintf("/bulletin/%d", id), nil)
}

// ListUsers requests GET /user.
func (c *Client) ListUsers(ctx context.Context, limit int) (wireproto.Response, error) {
	vars := map[string]wireproto.Value{}
	if limit > 0 {
		vars["limit"] = wireproto.Int(int64(limit))
	}
	return c.get(ctx, "/user", vars)
}

// UpdateProfile requests UPDATE /user with the given partial field set.
func (c *Client) UpdateProfile(ctx context.Context, fields map[string]wireproto.Value) (wireproto.Response, error) {
	return c.update(ctx, "/user", nil, wireproto.Map(fields))
}

// SendMessage requests POST /message.
func (c *Client) SendMessage(ctx context.Context, text string, to []string, attachments []wireproto.Value) (wireproto.Response, error) {
	toVals := make([]wireproto.Value, len(to))
	for i, r := range to {
		toVals[i] = wireproto.Str(r)
	}
	body := map[string]wireproto.Value{
		"text": wireproto.Str(text),
		"to":   wireproto.List(toVals...),
	}
	if attachments != nil {
		body["attachments"] = wireproto.List(attachments...)
	}
	return c.post(ctx, "/message", nil, wireproto.Map(body))
}

// Mailbox requests GET /message with the given filter vars (source, limit,
// fetch_text, fetch_attachments, reverse, sort, search).
func (c *Client) Mailbox(ctx context.Context, vars map[string]wireproto.Value) (wireproto.Response, error) {
	return c.get(ctx, "/message", vars)
}

// PostObject requests POST /object.
func (c *Client) PostObject(ctx context.Context, name string, data []byte, binary, private bool) (wireproto.Response, error) {
	return c.post(ctx, "/object", nil, wireproto.Map(map[string]wireproto.Value{
		"name":    wireproto.Str(name),
		"data":    wireproto.Bytes(data),
		"binary":  wireproto.Bool(binary),
		"private": wireproto.Bool(private),
	}))
}

// GetObject requests GET /object?uuid=..., adding fetch=y when fetch is
// true and omitting the var otherwise.
func (c *Client) GetObject(ctx context.Context, uuid string, fetch bool) (wireproto.Response, error) {
	vars := map[string]wireproto.Value{"uuid": wireproto.Str(uuid)}
	if fetch {
		vars["fetch"] = wireproto.Str("y")
	}
	return c.get(ctx, "/object", vars)
}

// ListObjects requests GET /object with display options.
func (c *Client) ListObjects(ctx context.Context, vars map[string]wireproto.Value) (wireproto.Response, error) {
	return c.get(ctx, "/object", vars)
}

// UpdateObject requests UPDATE /object?uuid=....
func (c *Client) UpdateObject(ctx context.Context, uuid string, name *string, data []byte) (wireproto.Response, error) {
	body := map[string]wireproto.Value{}
	if name != nil {
		body["name"] = wireproto.Str(*name)
	}
	if data != nil {
		body["data"] = wireproto.Bytes(data)
	}
	return c.update(ctx, "/object", map[string]wireproto.Value{"uuid": wireproto.Str(uuid)}, wireproto.Map(body))
}

// DeleteObject requests DELETE /object?uuid=....
func (c *Client) DeleteObject(ctx context.Context, uuid string) (wireproto.Response, error) {
	return c.del(ctx, "/object", map[string]wireproto.Value{"uuid": wireproto.Str(uuid)})
}

// SubmitJob requests POST /job, optionally in quick mode.
func (c *Client) SubmitJob(ctx context.Context, cmd []string, env map[string]string, files map[string][]byte, quick bool) (wireproto.Response, error) {
	cmdVals := make([]wireproto.Value, len(cmd))
	for i, s := range cmd {
		cmdVals[i] = wireproto.Str(s)
	}
	envVals := map[string]wireproto.Value{}
	for k, v := range env {
		envVals[k] = wireproto.Str(v)
	}
	fileVals := map[string]wireproto.Value{}
	for name, data := range files {
		fileVals[name] = wireproto.Bytes(data)
	}
	vars := map[string]wireproto.Value{}
	if quick {
		vars["quick"] = wireproto.Str("y")
	}
	return c.post(ctx, "/job", vars, wireproto.Map(map[string]wireproto.Value{
		"cmd":   wireproto.List(cmdVals...),
		"env":   wireproto.Map(envVals),
		"files": wireproto.Map(fileVals),
	}))
}

// GetJob requests GET /job/<id>.
func (c *Client) GetJob(ctx context.Context, id int64) (wireproto.Response, error) {
	return c.get(ctx, fmt.Sprintf("/job/%d", id), nil)
}

// ListJobs requests GET /job/user.
func (c *Client) ListJobs(ctx context.Context, idOnly bool) (wireproto.Response, error) {
	vars := map[string]wireproto.Value{}
	if idOnly {
		vars["id_only"] = wireproto.Str("y")
	}
	return c.get(ctx, "/job/user", vars)
}
