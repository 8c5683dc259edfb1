package dispatch

import (
	"testing"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/transport"
	"github.com/packetbbs/core/internal/wireproto"
)

func TestSplitCallsign(t *testing.T) {
	cases := []struct {
		in       string
		wantBase string
		wantSSID int
		wantOK   bool
	}{
		{"W1AW", "W1AW", 0, true},
		{"K9ABC", "K9ABC", 0, true},
		{"M0XYZ-15", "M0XYZ", 15, true},
		{"KQ4PEC-7", "KQ4PEC", 7, true},
		{"1ABC", "", 0, false},
		{"W1AW-", "", 0, false},
		{"W1AW-16", "", 0, false},
		{"w1aw", "", 0, false},
		{"ABC1234", "", 0, false},
	}
	for _, c := range cases {
		base, ssid, ok := SplitCallsign(c.in)
		if ok != c.wantOK {
			t.Errorf("SplitCallsign(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if base != c.wantBase || ssid != c.wantSSID {
			t.Errorf("SplitCallsign(%q) = (%q, %d), want (%q, %d)", c.in, base, ssid, c.wantBase, c.wantSSID)
		}
	}
}

func TestRootSegment(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/":           "",
		"/bulletin":   "bulletin",
		"/bulletin/3": "bulletin",
		"/job/user":   "job",
	}
	for path, want := range cases {
		if got := rootSegment(path); got != want {
			t.Errorf("rootSegment(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestAdmissionCreatesUserAndRoutesRequest(t *testing.T) {
	store, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	d := New(store)
	handled := make(chan wireproto.Request, 1)
	d.Routes["bulletin"] = func(req wireproto.Request, conn *Connection, _ *bbsstore.Store) (wireproto.Response, error) {
		handled <- req
		return wireproto.NewResponse(200, wireproto.Null())
	}

	serverSide, clientSide := transport.NewLoopbackPair("BBS", "W1AW-3")
	d.Attach(serverSide)
	clientSide.Connect()

	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		_, err := tx.GetUser("W1AW")
		return err
	}); err != nil {
		t.Fatalf("expected admission to create the base-callsign user: %v", err)
	}

	req := wireproto.Request{Method: wireproto.MethodGET, Vars: map[string]wireproto.Value{}, Body: wireproto.Null()}
	req.SetPath("/bulletin")
	if err := clientSide.SendData(wireproto.PackRequest(req, wireproto.CompressNone)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-handled:
		if got.Path != "/bulletin" {
			t.Errorf("routed path = %q", got.Path)
		}
	default:
		t.Fatal("expected the bulletin handler to run")
	}
}

func TestAdmissionMarksBlacklistedConnectionClosing(t *testing.T) {
	store, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		cfg.Blacklist = append(cfg.Blacklist, "BADOP")
		return tx.SetConfig(cfg)
	}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	d := New(store)
	serverSide, clientSide := transport.NewLoopbackPair("BBS", "BADOP")
	conn := d.Attach(serverSide)
	clientSide.Connect()

	if !conn.Closing() {
		t.Fatal("expected a blacklisted caller's connection to be marked closing")
	}
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		_, err := tx.GetUser("BADOP")
		return err
	}); err != bbsstore.ErrNotFound {
		t.Fatalf("expected no user record for a blacklisted caller, got %v", err)
	}
}
