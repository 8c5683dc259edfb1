package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/orchestrator"
)

type recordingEngine struct{}

func (recordingEngine) Create(context.Context, orchestrator.ContainerSpec) (string, error) {
	return "c1", nil
}
func (recordingEngine) Start(context.Context, string) error { return nil }
func (recordingEngine) Stop(context.Context, string) error  { return nil }
func (recordingEngine) Remove(context.Context, string) error { return nil }
func (recordingEngine) Exec(context.Context, string, string, []string, map[string]string, string) ([]byte, []byte, int, error) {
	return []byte("done\n"), nil, 0, nil
}
func (recordingEngine) PutArchive(context.Context, string, string, []byte) error { return nil }
func (recordingEngine) GetArchive(context.Context, string, string) ([]byte, error) {
	return []byte("artifact"), nil
}
func (recordingEngine) List(context.Context, string) ([]string, error) { return nil, nil }
func (recordingEngine) Inspect(context.Context, string) (orchestrator.ContainerState, error) {
	return orchestrator.ContainerState{}, nil
}

func TestWorkerDrainsQueueAndReconciles(t *testing.T) {
	store, err := bbsstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var jobID int64
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		if _, err := tx.EnsureUser("W1AW"); err != nil {
			return err
		}
		j, err := tx.CreateJob("W1AW", []string{"echo done"}, nil, nil)
		jobID = j.ID
		return err
	}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	orch := orchestrator.New(recordingEngine{}, orchestrator.Policy{Image: "alpine", MaxActiveJobs: 2, NamePrefix: "bbsjob-"})
	orch.Start()
	w := New(store, orch)

	w.tick()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.tick()
		var status bbsstore.JobStatus
		store.Transaction(func(tx *bbsstore.Tx) error {
			j, err := tx.GetJob(jobID)
			status = j.Status
			return err
		})
		if status.IsTerminal() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected job to reach a terminal state")
}

func TestHintTightensIntervalOnQuick(t *testing.T) {
	store, _ := bbsstore.Open(":memory:")
	t.Cleanup(func() { store.Close() })
	orch := orchestrator.New(recordingEngine{}, orchestrator.Policy{MaxActiveJobs: 1})
	w := New(store, orch)

	w.Hint(true)
	w.mu.Lock()
	got := w.interval
	w.mu.Unlock()
	if got != quickInterval {
		t.Fatalf("expected quick interval %v, got %v", quickInterval, got)
	}
}
