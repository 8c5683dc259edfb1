package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoopbackDeliversOrderedWholeChunks(t *testing.T) {
	a, b := NewLoopbackPair("W1AW", "KQ4PEC")
	var got [][]byte
	b.OnReceive(func(d []byte) { got = append(got, append([]byte(nil), d...)) })
	a.Connect()

	if a.RemoteCallsign() != "KQ4PEC" || b.RemoteCallsign() != "W1AW" {
		t.Fatalf("remote callsigns not wired correctly")
	}

	if err := a.SendData([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("unexpected delivery: %v", got)
	}
}

func TestSendDataChunksLargerThanMTU(t *testing.T) {
	a, b := NewLoopbackPair("A", "B")
	a.mtu, b.mtu = 10, 10
	var chunks [][]byte
	b.OnReceive(func(d []byte) { chunks = append(chunks, append([]byte(nil), d...)) })
	a.Connect()

	payload := bytes.Repeat([]byte("x"), 25)
	if err := a.SendData(payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	wantChunks := 3 // ceil(25/10)
	if len(chunks) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(chunks))
	}
	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("reassembled payload mismatch")
	}
}

func TestDirectoryTransportRendezvous(t *testing.T) {
	root := t.TempDir()
	client, err := NewDirectory(root, "CLIENT", "SERVER", false)
	if err != nil {
		t.Fatalf("new client dir: %v", err)
	}
	server, err := NewDirectory(root, "SERVER", "CLIENT", true)
	if err != nil {
		t.Fatalf("new server dir: %v", err)
	}

	received := make(chan []byte, 1)
	server.OnReceive(func(d []byte) { received <- d })
	client.setState(StateConnected)
	server.setState(StateConnected)

	if err := client.SendData([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	go server.drainLoopOnce(t)

	select {
	case d := <-received:
		if string(d) != "ping" {
			t.Fatalf("got %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// drainLoopOnce polls drainInbound a few times; used by tests instead of Run
// to avoid depending on the full ticker cadence.
func (d *Directory) drainLoopOnce(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		d.drainInbound()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDirectoryDeletionEndsConnection(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirectory(root, "CLIENT", "SERVER", false)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	disconnected := make(chan struct{})
	d.OnDisconnected(func() { close(disconnected) })
	go d.Run()

	if err := os.RemoveAll(filepath.Join(root, "CLIENT--SERVER")); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("expected disconnect after directory removal")
	}
	d.Close()
}
