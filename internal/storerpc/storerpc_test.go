package storerpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
)

func newTestStore(t *testing.T) *bbsstore.Store {
	t.Helper()
	s, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func call(t *testing.T, conn net.Conn, req request) response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write len: %v", err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}

	r := bufio.NewReader(conn)
	respBody, err := readFrame(r)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestServePing(t *testing.T) {
	store := newTestStore(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, store, ln) //nolint:errcheck

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := call(t, conn, request{Op: "ping"})
	if !resp.OK {
		t.Fatalf("ping failed: %s", resp.Error)
	}
}

func TestServeGetUser(t *testing.T) {
	store := newTestStore(t)
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		_, err := tx.EnsureUser("W1AW")
		return err
	}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, store, ln) //nolint:errcheck

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := call(t, conn, request{Op: "get_user", Args: map[string]string{"callsign": "W1AW"}})
	if !resp.OK {
		t.Fatalf("get_user failed: %s", resp.Error)
	}
}

func TestServeUnknownOp(t *testing.T) {
	store := newTestStore(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, store, ln) //nolint:errcheck

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := call(t, conn, request{Op: "delete_everything"})
	if resp.OK {
		t.Fatal("expected an unknown op to fail")
	}
}
