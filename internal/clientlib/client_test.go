package clientlib

import (
	"context"
	"testing"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/handlers"
	"github.com/packetbbs/core/internal/jobqueue"
	"github.com/packetbbs/core/internal/orchestrator"
)

func newTestServer(t *testing.T) (*dispatch.Dispatcher, *bbsstore.Store) {
	t.Helper()
	store, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	d := dispatch.New(store)
	d.Routes[""] = handlers.Root
	d.Routes["bulletin"] = handlers.Bulletin
	d.Routes["message"] = handlers.Message
	d.Routes["job"] = handlers.Job
	return d, store
}

func dialTestClient(t *testing.T, d *dispatch.Dispatcher, callsign string) *Client {
	t.Helper()
	client, serverSide := DialLoopback(callsign, "BBS")
	d.Attach(serverSide)
	serverSide.Connect()
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientHandshake(t *testing.T) {
	d, _ := newTestServer(t)
	client := dialTestClient(t, d, "W1AW")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Handshake(ctx)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	m, ok := resp.Body.AsMap()
	if !ok {
		t.Fatal("expected map body")
	}
	if s, _ := m["user"].AsString(); s == "" {
		t.Fatal("expected a user line in the handshake payload")
	}
}

func TestClientPostAndListBulletin(t *testing.T) {
	d, _ := newTestServer(t)
	client := dialTestClient(t, d, "W1AW")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	postResp, err := client.PostBulletin(ctx, "Hello", "World")
	if err != nil {
		t.Fatalf("post bulletin: %v", err)
	}
	if postResp.Status != 201 {
		t.Fatalf("post status = %d, want 201", postResp.Status)
	}
	m, _ := postResp.Body.AsMap()
	if id, _ := m["bulletin_id"].AsInt(); id != 0 {
		t.Fatalf("first bulletin id = %d, want 0", id)
	}

	listResp, err := client.ListBulletins(ctx, 0)
	if err != nil {
		t.Fatalf("list bulletins: %v", err)
	}
	if listResp.Status != 200 {
		t.Fatalf("list status = %d, want 200", listResp.Status)
	}
	items, ok := listResp.Body.AsList()
	if !ok || len(items) != 1 {
		t.Fatalf("expected one bulletin, got %v (ok=%v)", listResp.Body, ok)
	}
}

func TestSendMessageCountsCopiesAndReportsFailures(t *testing.T) {
	d, store := newTestServer(t)
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		_, err := tx.EnsureUser("W1AW")
		return err
	}); err != nil {
		t.Fatalf("ensure recipient: %v", err)
	}
	client := dialTestClient(t, d, "KQ4PEC-7")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.SendMessage(ctx, "hello", []string{"W1AW", "N0CALL"}, nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.Status != 201 {
		t.Fatalf("status = %d, want 201", resp.Status)
	}
	m, _ := resp.Body.AsMap()
	if n, _ := m["successes"].AsInt(); n != 2 {
		t.Fatalf("successes = %d, want 2 (recipient copy + sent copy)", n)
	}
	failed, _ := m["failed"].AsList()
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want one entry", failed)
	}
	if s, _ := failed[0].AsString(); s != "N0CALL" {
		t.Fatalf("failed recipient = %q, want N0CALL", s)
	}
	msgID, _ := m["msg_id"].AsString()
	if msgID == "" {
		t.Fatal("expected a msg_id")
	}

	// Both the recipient's mailbox and the sender's sent folder carry a
	// copy with the shared uuid.
	for _, mailbox := range []string{"W1AW", "KQ4PEC"} {
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			_, err := tx.GetMailboxMessage(msgID, mailbox)
			return err
		}); err != nil {
			t.Fatalf("expected %s's mailbox to hold %s: %v", mailbox, msgID, err)
		}
	}
}

type echoEngine struct{}

func (echoEngine) Create(context.Context, orchestrator.ContainerSpec) (string, error) {
	return "c1", nil
}
func (echoEngine) Start(context.Context, string) error  { return nil }
func (echoEngine) Stop(context.Context, string) error   { return nil }
func (echoEngine) Remove(context.Context, string) error { return nil }
func (echoEngine) Exec(_ context.Context, _ string, user string, cmd []string, _ map[string]string, _ string) ([]byte, []byte, int, error) {
	if user == "root" {
		return nil, nil, 0, nil
	}
	return []byte("ok\n"), nil, 0, nil
}
func (echoEngine) PutArchive(context.Context, string, string, []byte) error { return nil }
func (echoEngine) GetArchive(context.Context, string, string) ([]byte, error) {
	return []byte("artifact"), nil
}
func (echoEngine) List(context.Context, string) ([]string, error) { return nil, nil }
func (echoEngine) Inspect(context.Context, string) (orchestrator.ContainerState, error) {
	return orchestrator.ContainerState{Running: true}, nil
}

func TestQuickJobReturnsTerminalResult(t *testing.T) {
	d, store := newTestServer(t)
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		cfg.JobsEnabled = true
		return tx.SetConfig(cfg)
	}); err != nil {
		t.Fatalf("enable jobs: %v", err)
	}

	orch := orchestrator.New(echoEngine{}, orchestrator.Policy{Image: "alpine", MaxActiveJobs: 2, NamePrefix: "bbsjob-"})
	orch.Start()
	worker := jobqueue.New(store, orch)
	d.QuickHint = worker.Hint

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go worker.Run(ctx)
	defer worker.Stop()

	client := dialTestClient(t, d, "W1AW")
	resp, err := client.SubmitJob(ctx, []string{"echo", "ok"}, map[string]string{"FOO": "1"}, nil, true)
	if err != nil {
		t.Fatalf("submit quick job: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200 for a quick job finishing in time", resp.Status)
	}
	m, _ := resp.Body.AsMap()
	if s, _ := m["status"].AsString(); s != string(bbsstore.JobSuccessful) {
		t.Fatalf("job status = %q, want SUCCESSFUL", s)
	}
	if rc, _ := m["return_code"].AsInt(); rc != 0 {
		t.Fatalf("return_code = %d, want 0", rc)
	}
}

func TestRunScriptAbortsOnStepError(t *testing.T) {
	d, _ := newTestServer(t)
	client := dialTestClient(t, d, "W1AW")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	steps := []Step{
		func(ctx context.Context, c *Client) error { return context.Canceled },
	}
	if err := RunScript(ctx, "W1AW", client, time.Millisecond, steps); err == nil {
		t.Fatal("expected RunScript to return the step's error")
	}
}
