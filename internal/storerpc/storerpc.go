// Package storerpc implements the small client-server-mode listener used
// for ZEO-style split deployments: a length-prefixed request/response
// protocol exposing a subset of the store's read path over TCP, for
// tooling that wants to query a running bbsd without opening the SQLite
// file itself. The embedded-file backend remains the default; this
// listener is opt-in via bbsd's -listen flag.
package storerpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
)

// maxFrame bounds a single request/response body at 1 MiB, a defensive cap
// like (but smaller than) the 4 MiB wireproto's Unpacker applies to its own
// length-prefixed frames.
const maxFrame = 1 << 20

// request is the envelope every call sends: Op selects the store method,
// Args carries its arguments as named strings (e.g. "callsign").
type request struct {
	Op   string            `json:"op"`
	Args map[string]string `json:"args"`
}

type response struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Serve listens on addr and answers requests against store until ctx is
// done. It returns once the listener is closed. The caller is expected to
// write the resolved listen address to the zeo-address file before or
// after calling Serve, since net.Listen resolves ":0" immediately.
func Serve(ctx context.Context, store *bbsstore.Store, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("storerpc: accept: %w", err)
		}
		go handleConn(conn, store)
	}
}

func handleConn(conn net.Conn, store *bbsstore.Store) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		body, err := readFrame(r)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			writeFrame(conn, response{OK: false, Error: "bad request"}) //nolint:errcheck
			continue
		}
		writeFrame(conn, dispatch(store, req)) //nolint:errcheck
	}
}

func dispatch(store *bbsstore.Store, req request) response {
	switch req.Op {
	case "ping":
		return response{OK: true, Data: "pong"}
	case "get_config":
		var cfg bbsstore.Config
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			cfg, err = tx.GetConfig()
			return err
		})
		if err != nil {
			return response{OK: false, Error: err.Error()}
		}
		return response{OK: true, Data: cfg}
	case "get_user":
		var u bbsstore.User
		err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			u, err = tx.GetUser(req.Args["callsign"])
			return err
		})
		if err != nil {
			return response{OK: false, Error: err.Error()}
		}
		return response{OK: true, Data: u}
	default:
		return response{OK: false, Error: "unknown op " + req.Op}
	}
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("storerpc: frame too large: %d", n)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFrame(conn net.Conn, resp response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("storerpc: marshal response")
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = conn.Write(body)
	return err
}
