package orchestrator

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
)

// setupScript creates the job's user, home directory and artifact output
// directory inside the container on first contact.
const setupScript = `#!/bin/sh
set -e
id -u "$1" >/dev/null 2>&1 || useradd -m "$1"
mkdir -p /artifact_output
chown "$1":"$1" /artifact_output
`

// jobSetupScript prepares a per-job artifacts directory.
const jobSetupScript = `#!/bin/sh
set -e
mkdir -p "/home/$1/.packetserver/$2/artifacts"
chown -R "$1":"$1" "/home/$1/.packetserver/$2"
`

// jobEndScript tars the job's artifacts directory into /artifact_output.
const jobEndScript = `#!/bin/sh
set -e
tar czf "/artifact_output/$2.tar.gz" -C "/home/$1/.packetserver/$2/artifacts" .
`

func runFirstRunSetup(ctx context.Context, engine Engine, containerID, ownerCallsign string) error {
	tarball, err := singleFileTarGz("/root/scripts/setup.sh", setupScript)
	if err != nil {
		return err
	}
	if err := engine.PutArchive(ctx, containerID, "/root/scripts", tarball); err != nil {
		return err
	}
	username := strings.ToLower(ownerCallsign)
	_, stderr, code, err := engine.Exec(ctx, containerID, "root",
		[]string{"sh", "/root/scripts/setup.sh", username}, nil, "/root")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("setup script exited %d: %s", code, stderr)
	}
	return nil
}

func singleFileTarGz(path, content string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: baseName(path), Mode: 0o755, Size: int64(len(content))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func endnowTarGz() []byte {
	data, _ := singleFileTarGz("/root/ENDNOW", "")
	return data
}

// Runner drives one job's exec to completion in its own goroutine.
type Runner struct {
	engine        Engine
	containerID   string
	ownerCallsign string
	job           bbsstore.Job
	timeout       time.Duration

	mu         sync.Mutex
	status     bbsstore.JobStatus
	returnCode int
	stdout     []byte
	stderr     []byte
	artifact   []byte
	finished   bool
}

func newRunner(engine Engine, containerID, ownerCallsign string, job bbsstore.Job, timeout time.Duration) *Runner {
	return &Runner{engine: engine, containerID: containerID, ownerCallsign: ownerCallsign, job: job, timeout: timeout, status: bbsstore.JobStarting}
}

func (r *Runner) start() { go r.run() }

func (r *Runner) run() {
	ctx := context.Background()
	username := strings.ToLower(r.ownerCallsign)
	jobID := strconv.FormatInt(r.job.ID, 10)

	r.setStatus(bbsstore.JobStarting)
	if err := r.prepareJobDir(ctx, username, jobID); err != nil {
		r.fail(err)
		return
	}
	if err := r.uploadFiles(ctx, username, jobID); err != nil {
		r.fail(err)
		return
	}

	r.setStatus(bbsstore.JobRunning)
	cmd := shellCommand(r.job.Command)
	env := make(map[string]string, len(r.job.Env)+1)
	for k, v := range r.job.Env {
		env[k] = v
	}
	env["PACKETSERVER_JOBID"] = jobID
	workdir := fmt.Sprintf("/home/%s/.packetserver/%s", username, jobID)

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	stdout, stderr, code, err := r.engine.Exec(execCtx, r.containerID, username, cmd, env, workdir)
	r.setStatus(bbsstore.JobStopping)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			r.finish(bbsstore.JobTimedOut, -1, stdout, append(stderr, []byte("job timed out")...))
			return
		}
		r.fail(err)
		return
	}

	artifact, err := r.collectArtifact(ctx, username, jobID)
	if err != nil {
		log.Warn().Err(err).Int64("job", r.job.ID).Msg("orchestrator: collect artifact")
	}

	r.mu.Lock()
	r.stdout, r.stderr, r.returnCode, r.artifact = stdout, stderr, code, artifact
	if code == 0 {
		r.status = bbsstore.JobSuccessful
	} else {
		r.status = bbsstore.JobFailed
	}
	r.finished = true
	r.mu.Unlock()
}

func (r *Runner) prepareJobDir(ctx context.Context, username, jobID string) error {
	tarball, err := singleFileTarGz("/root/scripts/job-setup.sh", jobSetupScript)
	if err != nil {
		return err
	}
	if err := r.engine.PutArchive(ctx, r.containerID, "/root/scripts", tarball); err != nil {
		return err
	}
	_, stderr, code, err := r.engine.Exec(ctx, r.containerID, "root",
		[]string{"sh", "/root/scripts/job-setup.sh", username, jobID}, nil, "/root")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("job-setup script exited %d: %s", code, stderr)
	}
	return nil
}

func (r *Runner) uploadFiles(ctx context.Context, username, jobID string) error {
	destDir := fmt.Sprintf("/home/%s/.packetserver/%s/artifacts", username, jobID)
	for _, f := range r.job.Files {
		tarball, err := singleFileTarGz(f.Name, string(f.Data))
		if err != nil {
			return err
		}
		if err := r.engine.PutArchive(ctx, r.containerID, destDir, tarball); err != nil {
			return err
		}
		owner := username
		if f.RootOwned {
			owner = "root"
		}
		if _, _, _, err := r.engine.Exec(ctx, r.containerID, "root",
			[]string{"chown", owner + ":" + owner, destDir + "/" + baseName(f.Name)}, nil, "/"); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) collectArtifact(ctx context.Context, username, jobID string) ([]byte, error) {
	tarball, err := singleFileTarGz("/root/scripts/job-end.sh", jobEndScript)
	if err != nil {
		return nil, err
	}
	if err := r.engine.PutArchive(ctx, r.containerID, "/root/scripts", tarball); err != nil {
		return nil, err
	}
	if _, stderr, code, err := r.engine.Exec(ctx, r.containerID, "root",
		[]string{"sh", "/root/scripts/job-end.sh", username, jobID}, nil, "/root"); err != nil {
		return nil, err
	} else if code != 0 {
		return nil, fmt.Errorf("job-end script exited %d: %s", code, stderr)
	}
	return r.engine.GetArchive(ctx, r.containerID, fmt.Sprintf("/artifact_output/%s.tar.gz", jobID))
}

func shellCommand(cmd []string) []string {
	if len(cmd) == 1 {
		return []string{"sh", "-c", cmd[0]}
	}
	return cmd
}

func (r *Runner) setStatus(s bbsstore.JobStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Runner) fail(err error) {
	log.Error().Err(err).Int64("job", r.job.ID).Msg("orchestrator: runner failed")
	r.finish(bbsstore.JobFailed, -1, nil, []byte(err.Error()))
}

func (r *Runner) finish(status bbsstore.JobStatus, code int, stdout, stderr []byte) {
	r.mu.Lock()
	r.status = status
	r.returnCode = code
	r.stdout = stdout
	r.stderr = stderr
	r.finished = true
	r.mu.Unlock()
}

// Finished reports whether the runner has reached a terminal state.
func (r *Runner) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Collect returns the runner's final status and captured output; only
// meaningful once Finished() is true.
func (r *Runner) Collect() (status bbsstore.JobStatus, returnCode int, stdout, stderr, artifact []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.returnCode, r.stdout, r.stderr, r.artifact
}

// JobID reports the id of the job this runner is executing.
func (r *Runner) JobID() int64 { return r.job.ID }
