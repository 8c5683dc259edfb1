package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Directory implements the filesystem-rendezvous transport: a directory
// named "<CLIENT>--<SERVER>" holds one file per direction. Each side
// writes its outbound message to "<own>.msg" via a ".tmp" + atomic rename,
// and polls for "<peer>.msg", consuming it by delete. Deleting the
// directory ends the connection.
type Directory struct {
	base
	dir          string
	own          string
	peer         string
	pollInterval time.Duration
	stop         chan struct{}
	stopped      bool
}

// NewDirectory creates (if absent) the rendezvous directory "<own>--<peer>"
// rooted at root, and returns a Directory transport for the "own" side.
// Pass swap=true to create "<peer>--<own>" instead (used by the opposite
// end of the same rendezvous).
func NewDirectory(root, own, peer string, swap bool) (*Directory, error) {
	dirName := own + "--" + peer
	if swap {
		dirName = peer + "--" + own
	}
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport: create rendezvous dir: %w", err)
	}
	return &Directory{
		base:         newBase(DefaultMTU),
		dir:          dir,
		own:          own,
		peer:         peer,
		pollInterval: 500 * time.Millisecond,
		stop:         make(chan struct{}),
	}, nil
}

func (d *Directory) RemoteCallsign() string { return d.peer }

// Run starts the poll loop; it fires onConnected once, then onReceive for
// each inbound message file, until Close is called or the directory is
// removed out from under it.
func (d *Directory) Run() {
	d.fireConnected()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if _, err := os.Stat(d.dir); err != nil {
				d.setState(StateDisconnected)
				d.fireDisconnected()
				return
			}
			d.drainInbound()
		}
	}
}

func (d *Directory) inboundPath() string { return filepath.Join(d.dir, d.peer+".msg") }
func (d *Directory) outboundPath() string { return filepath.Join(d.dir, d.own+".msg") }

func (d *Directory) drainInbound() {
	path := d.inboundPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Consume by delete; a racing writer simply recreates it on its next
	// message, and whole-envelope delivery is guaranteed by the codec's
	// framing on top of this substrate, not by this read.
	_ = os.Remove(path)
	d.fireReceive(data)
}

// SendData writes payload to the outbound file using a .tmp + atomic
// rename, chunking per MTU into back-to-back writes (each write is its own
// temp+rename cycle so peers never observe a partial frame). Before each
// rename it waits for the peer to have consumed the previous message file;
// renaming over an unconsumed file would silently drop that chunk.
func (d *Directory) SendData(payload []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if d.State() != StateConnected {
		return errNotConnected
	}
	for _, c := range d.chunk(payload) {
		if err := d.waitOutboundConsumed(); err != nil {
			return err
		}
		tmp := d.outboundPath() + ".tmp"
		if err := os.WriteFile(tmp, c, 0o644); err != nil {
			return fmt.Errorf("transport: write tmp: %w", err)
		}
		if err := os.Rename(tmp, d.outboundPath()); err != nil {
			return fmt.Errorf("transport: rename: %w", err)
		}
	}
	return nil
}

// waitOutboundConsumed blocks until the peer has deleted the previous
// outbound message file, bounded by a timeout generous enough for the
// peer's 500ms poll cadence.
func (d *Directory) waitOutboundConsumed() error {
	deadline := time.Now().Add(15 * time.Second)
	for {
		if _, err := os.Stat(d.outboundPath()); os.IsNotExist(err) {
			return nil
		}
		if d.State() != StateConnected {
			return errNotConnected
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("transport: peer never consumed %s", d.outboundPath())
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *Directory) Close() error {
	if d.stopped {
		return nil
	}
	d.stopped = true
	close(d.stop)
	if d.State() == StateDisconnected {
		// Run already fired onDisconnected when the directory vanished.
		return nil
	}
	d.setState(StateDisconnecting)
	d.fireDisconnected()
	return nil
}

// Bouncer is the server-side scanner: it watches a parent directory for
// new rendezvous subdirectories and hands each one to onNew as it appears.
// It runs its own poll loop, matching the 500ms cadence used elsewhere in
// this package.
type Bouncer struct {
	root  string
	seen  map[string]bool
	onNew func(dirName string)
	stop  chan struct{}
}

// NewBouncer constructs a Bouncer rooted at root.
func NewBouncer(root string, onNew func(dirName string)) *Bouncer {
	return &Bouncer{root: root, seen: map[string]bool{}, onNew: onNew, stop: make(chan struct{})}
}

// Run polls root every 500ms for new subdirectories until Stop is called.
func (b *Bouncer) Run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			entries, err := os.ReadDir(b.root)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() || b.seen[e.Name()] {
					continue
				}
				b.seen[e.Name()] = true
				b.onNew(e.Name())
			}
		}
	}
}

// Stop ends the bouncer's poll loop.
func (b *Bouncer) Stop() { close(b.stop) }
