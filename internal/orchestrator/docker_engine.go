package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerEngine implements Engine against a running Docker (or
// podman-compatible) daemon via the official client SDK.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine connects to the daemon using the environment's standard
// DOCKER_HOST/DOCKER_CERT_PATH configuration.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connect to engine: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	// Pull the image if it isn't present locally; ignore errors here since
	// ContainerCreate below surfaces a clearer "no such image" failure.
	if rc, err := e.cli.ImagePull(ctx, spec.Image, image.PullOptions{}); err == nil {
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}

	entrypoint := []string{"sh", "-c", "while [ ! -f /root/ENDNOW ]; do sleep 1; done"}
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Env:   env,
		Cmd:   entrypoint,
		Tty:   false,
	}, &container.HostConfig{AutoRemove: false}, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (e *DockerEngine) Start(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("orchestrator: start %s: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Stop(ctx context.Context, id string) error {
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("orchestrator: stop %s: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Remove(ctx context.Context, id string) error {
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("orchestrator: remove %s: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Exec(ctx context.Context, id, user string, cmd []string, env map[string]string, workdir string) ([]byte, []byte, int, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	execResp, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd: cmd, Env: envList, User: user, WorkingDir: workdir,
		AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		return nil, nil, -1, fmt.Errorf("orchestrator: exec create %s: %w", id, err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, nil, -1, fmt.Errorf("orchestrator: exec attach %s: %w", id, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := demuxDockerStream(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, nil, -1, fmt.Errorf("orchestrator: exec read %s: %w", id, err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, fmt.Errorf("orchestrator: exec inspect %s: %w", id, err)
	}
	return stdout.Bytes(), stderr.Bytes(), inspect.ExitCode, nil
}

func (e *DockerEngine) PutArchive(ctx context.Context, id, destPath string, tarGz []byte) error {
	if err := e.cli.CopyToContainer(ctx, id, destPath, bytes.NewReader(tarGz), container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("orchestrator: put_archive %s: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) GetArchive(ctx context.Context, id, srcPath string) ([]byte, error) {
	rc, _, err := e.cli.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: get_archive %s: %w", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read archive %s: %w", id, err)
	}
	return data, nil
}

func (e *DockerEngine) List(ctx context.Context, namePrefix string) ([]string, error) {
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list containers: %w", err)
	}
	var names []string
	for _, c := range containers {
		for _, n := range c.Names {
			n = trimSlash(n)
			if len(n) >= len(namePrefix) && n[:len(namePrefix)] == namePrefix {
				names = append(names, n)
			}
		}
	}
	return names, nil
}

func (e *DockerEngine) Inspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, fmt.Errorf("orchestrator: inspect %s: %w", id, err)
	}
	if info.State == nil {
		return ContainerState{}, nil
	}
	return ContainerState{Running: info.State.Running, ExitCode: info.State.ExitCode}, nil
}

func trimSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// demuxDockerStream copies r, which carries Docker's multiplexed stdcopy
// framing, into stdout/stderr. It is a minimal reimplementation of
// stdcopy.StdCopy sufficient for exec output: an 8-byte header (stream id +
// big-endian uint32 length) precedes each frame.
func demuxDockerStream(stdout, stderr io.Writer, r io.Reader) (int64, error) {
	var total int64
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return total, io.EOF
			}
			return total, err
		}
		size := int64(header[4])<<24 | int64(header[5])<<16 | int64(header[6])<<8 | int64(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}
		n, err := io.CopyN(dst, r, size)
		total += n
		if err != nil {
			return total, err
		}
	}
}
