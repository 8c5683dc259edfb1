// Package orchestrator implements the container-orchestrating runner pool
// behind the job subsystem: an abstract Engine contract plus a
// podman/Docker-compatible implementation, and the Orchestrator that turns
// Engine operations into per-user container lifecycles.
package orchestrator

import "context"

// ContainerSpec describes the container a user's jobs run inside.
type ContainerSpec struct {
	Name  string
	Image string
	Env   map[string]string
}

// ContainerState is the subset of engine-reported state the orchestrator
// cares about.
type ContainerState struct {
	Running  bool
	ExitCode int
}

// Engine is the container runtime contract this package consumes — modeled
// on a podman-compatible/Docker-compatible API (create/start/stop/remove/
// exec/put_archive/get_archive/list/inspect). A real implementation wraps
// github.com/docker/docker/client; tests can supply a fake.
type Engine interface {
	Create(ctx context.Context, spec ContainerSpec) (id string, err error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, user string, cmd []string, env map[string]string, workdir string) (stdout, stderr []byte, exitCode int, err error)
	PutArchive(ctx context.Context, id, destPath string, tarGz []byte) error
	GetArchive(ctx context.Context, id, srcPath string) (tarGz []byte, err error)
	List(ctx context.Context, namePrefix string) (names []string, err error)
	Inspect(ctx context.Context, id string) (ContainerState, error)
}
