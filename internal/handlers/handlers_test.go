package handlers

import (
	"strconv"
	"testing"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/transport"
	"github.com/packetbbs/core/internal/wireproto"
)

func newTestConn(t *testing.T, callsign string) *dispatch.Connection {
	t.Helper()
	a, _ := transport.NewLoopbackPair(callsign, "TESTSRV")
	return &dispatch.Connection{Transport: a, Callsign: callsign}
}

func newTestStoreWithUser(t *testing.T, callsign string) *bbsstore.Store {
	t.Helper()
	s, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Transaction(func(tx *bbsstore.Tx) error {
		_, err := tx.EnsureUser(callsign)
		return err
	}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return s
}

func TestRootHandlerHandshake(t *testing.T) {
	store := newTestStoreWithUser(t, "W1AW")
	conn := newTestConn(t, "W1AW")

	resp, err := Root(wireproto.Request{Path: "", Method: wireproto.MethodGET, Vars: map[string]wireproto.Value{}}, conn, store)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	m, ok := resp.Body.AsMap()
	if !ok {
		t.Fatal("expected map body")
	}
	if _, ok := m["accepts_jobs"]; !ok {
		t.Fatal("expected accepts_jobs key")
	}
}

func TestBulletinCreateAndDeleteAuthorization(t *testing.T) {
	store := newTestStoreWithUser(t, "W1AW")
	author := newTestConn(t, "W1AW")
	other := newTestConn(t, "KQ4PEC")
	store.Transaction(func(tx *bbsstore.Tx) error { _, err := tx.EnsureUser("KQ4PEC"); return err })

	postReq := wireproto.Request{Path: "/bulletin", Method: wireproto.MethodPOST, Body: wireproto.Map(map[string]wireproto.Value{
		"subject": wireproto.Str("hi"), "body": wireproto.Str("body text"),
	})}
	resp, err := Bulletin(postReq, author, store)
	if err != nil || resp.Status != 201 {
		t.Fatalf("post bulletin: resp=%v err=%v", resp, err)
	}
	m, _ := resp.Body.AsMap()
	id, _ := m["bulletin_id"].AsInt()

	delReq := wireproto.Request{Path: "/bulletin/" + strconv.FormatInt(id, 10), Method: wireproto.MethodDELETE}
	resp, err = Bulletin(delReq, other, store)
	if err != nil {
		t.Fatalf("delete as non-author: %v", err)
	}
	if resp.Status != 403 {
		t.Fatalf("expected 403 for non-author delete, got %d", resp.Status)
	}

	resp, err = Bulletin(delReq, author, store)
	if err != nil {
		t.Fatalf("delete as author: %v", err)
	}
	if resp.Status != 204 {
		t.Fatalf("expected 204 for author delete, got %d", resp.Status)
	}
}

func TestObjectPrivateForbidsNonOwner(t *testing.T) {
	store := newTestStoreWithUser(t, "W1AW")
	owner := newTestConn(t, "W1AW")
	other := newTestConn(t, "KQ4PEC")
	store.Transaction(func(tx *bbsstore.Tx) error { _, err := tx.EnsureUser("KQ4PEC"); return err })

	postReq := wireproto.Request{Path: "/object", Method: wireproto.MethodPOST, Body: wireproto.Map(map[string]wireproto.Value{
		"name": wireproto.Str("secret.txt"), "data": wireproto.Bytes([]byte("shh")),
		"binary": wireproto.Bool(false), "private": wireproto.Bool(true),
	})}
	resp, err := Object(postReq, owner, store)
	if err != nil || resp.Status != 201 {
		t.Fatalf("post object: resp=%v err=%v", resp, err)
	}
	uuid, _ := resp.Body.AsString()

	getReq := wireproto.Request{Path: "/object", Method: wireproto.MethodGET,
		Vars: map[string]wireproto.Value{"uuid": wireproto.Str(uuid)}}
	resp, err = Object(getReq, other, store)
	if err != nil {
		t.Fatalf("get as non-owner: %v", err)
	}
	if resp.Status != 403 {
		t.Fatalf("expected 403 for private object accessed by non-owner, got %d", resp.Status)
	}
}

func TestMessageBroadcastToAll(t *testing.T) {
	store := newTestStoreWithUser(t, "SYSOP")
	store.Transaction(func(tx *bbsstore.Tx) error { _, err := tx.EnsureUser("W1AW"); return err })
	sysop := newTestConn(t, "SYSOP")

	postReq := wireproto.Request{Path: "/message", Method: wireproto.MethodPOST, Body: wireproto.Map(map[string]wireproto.Value{
		"text": wireproto.Str("welcome aboard"),
		"to":   wireproto.List(wireproto.Str(bbsstore.RecipientAll)),
	})}
	resp, err := Message(postReq, sysop, store)
	if err != nil || resp.Status != 201 {
		t.Fatalf("post message: resp=%v err=%v", resp, err)
	}

	var w1awMailbox int
	store.Transaction(func(tx *bbsstore.Tx) error {
		msgs, err := tx.ListMailbox("W1AW")
		w1awMailbox = len(msgs)
		return err
	})
	if w1awMailbox != 1 {
		t.Fatalf("expected broadcast delivered to W1AW, got %d messages", w1awMailbox)
	}
}
