package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/packetbbs/core/internal/bbsstore"
)

// fakeEngine is an in-memory Engine used so orchestrator logic can be
// exercised without a real container runtime.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]bool
	nextID     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: map[string]bool{}}
}

func (f *fakeEngine) Create(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.containers[spec.Name] = true
	return spec.Name, nil
}
func (f *fakeEngine) Start(context.Context, string) error { return nil }
func (f *fakeEngine) Stop(context.Context, string) error  { return nil }
func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}
func (f *fakeEngine) Exec(_ context.Context, _ string, _ string, cmd []string, _ map[string]string, _ string) ([]byte, []byte, int, error) {
	if len(cmd) > 0 && cmd[len(cmd)-1] == "fail" {
		return nil, []byte("boom"), 1, nil
	}
	return []byte("ok\n"), nil, 0, nil
}
func (f *fakeEngine) PutArchive(context.Context, string, string, []byte) error { return nil }
func (f *fakeEngine) GetArchive(context.Context, string, string) ([]byte, error) {
	return []byte("artifact"), nil
}
func (f *fakeEngine) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.containers {
		out = append(out, name)
	}
	return out, nil
}
func (f *fakeEngine) Inspect(context.Context, string) (ContainerState, error) {
	return ContainerState{Running: true}, nil
}

func TestRunnerLifecycleReachesTerminalState(t *testing.T) {
	engine := newFakeEngine()
	o := New(engine, Policy{Image: "alpine", MaxActiveJobs: 2, NamePrefix: "bbsjob-", ContainerKeepalive: time.Minute})
	o.Start()

	job := bbsstore.Job{ID: 1, Owner: "uuid-1", Command: []string{"echo ok"}}
	r, err := o.NewRunner(job, "W1AW")
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !r.Finished() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !r.Finished() {
		t.Fatal("expected runner to finish")
	}
	status, code, stdout, _, artifact := r.Collect()
	if status != bbsstore.JobSuccessful {
		t.Fatalf("expected SUCCESSFUL, got %s", status)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if string(stdout) != "ok\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if len(artifact) == 0 {
		t.Fatal("expected a captured artifact")
	}
}

func TestRunnersAvailableRespectsMaxActiveJobs(t *testing.T) {
	engine := newFakeEngine()
	o := New(engine, Policy{Image: "alpine", MaxActiveJobs: 1, NamePrefix: "bbsjob-"})
	o.Start()

	if _, err := o.NewRunner(bbsstore.Job{ID: 1, Command: []string{"sleep 5"}}, "AAA"); err != nil {
		t.Fatalf("first runner: %v", err)
	}
	if o.RunnersAvailable() {
		t.Fatal("expected no slot available once max_active_jobs is reached")
	}
}
