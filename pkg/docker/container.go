package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	dCont "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hbomb79/hevcify/pkg/logger"
)

type ContainerStatus int

const (
	// Container struct instance has just been created
	INIT ContainerStatus = iota

	// Container has been created, but not yet started
	CREATED

	// Container is UP and working normally
	UP

	// Container has CRASHED (exited with a non-zero code or failed to report)
	CRASHED

	// Container is being closed intentionally, next status should always be DOWN
	CLOSING

	// Container is DOWN (exited cleanly, or intentionally stopped)
	DOWN

	// Container has been removed
	DEAD
)

func (e ContainerStatus) String() string {
	return []string{"INIT", "CREATED", "UP", "CRASHED", "CLOSING", "DOWN", "DEAD"}[e]
}

// tailSize is the number of trailing log lines retained by a Job
const tailSize = 20

// ContainerSpec describes a container to be created by the Runtime.
type ContainerSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Cmd        []string
	Env        []string

	// Binds are volume bindings in the form "host_path:container_path"
	Binds []string

	// Devices are device mappings in the form "host_path:container_path"
	Devices []string

	// Runtime selects the OCI runtime used by the container (e.g. "nvidia").
	// An empty runtime uses the daemon default.
	Runtime string
	Labels  map[string]string
}

func (spec ContainerSpec) containerConfig() *dCont.Config {
	return &dCont.Config{
		Image:        spec.Image,
		Entrypoint:   spec.Entrypoint,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       spec.Labels,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
}

func (spec ContainerSpec) hostConfig() *dCont.HostConfig {
	devices := make([]dCont.DeviceMapping, 0, len(spec.Devices))
	for _, d := range spec.Devices {
		host, cont, found := strings.Cut(d, ":")
		if !found {
			cont = host
		}

		devices = append(devices, dCont.DeviceMapping{PathOnHost: host, PathInContainer: cont, CgroupPermissions: "rwm"})
	}

	return &dCont.HostConfig{
		Binds:     spec.Binds,
		Runtime:   spec.Runtime,
		Resources: dCont.Resources{Devices: devices},
	}
}

// Job is a detached container started by the Runtime. The
// caller is responsible for closing the job once it is finished with it,
// regardless of whether the container exited on it's own.
type Job interface {
	// Follow streams the stdout/stderr of the container, line by line, to the
	// handler provided. Both '\n' and '\r' are treated as line endings so that
	// in-place progress output is delivered as it is written. Follow blocks
	// until the container closes its output or the context is cancelled.
	Follow(context.Context, func(line string)) error

	// Wait blocks until the container is no longer running, returning its exit code.
	Wait(context.Context) (int64, error)

	// Close stops the container (if running) waiting at most timeout for it to
	// exit, and then removes it. Closing a DEAD job is a no-op.
	Close(ctx context.Context, timeout time.Duration) error

	// Tail returns the most recent lines delivered by Follow.
	Tail() []string

	// Label returns the name of the container
	Label() string

	// ID returns the container ID of this job.
	ID() string

	// Status returns the current status of this job.
	Status() ContainerStatus
}

type dockerJob struct {
	sync.Mutex
	cli         client.APIClient
	label       string
	containerID string
	status      ContainerStatus
	tail        []string
}

func newDockerJob(cli client.APIClient, label string) *dockerJob {
	return &dockerJob{cli: cli, label: label, status: INIT, tail: make([]string, 0, tailSize)}
}

func (job *dockerJob) Follow(ctx context.Context, handler func(string)) error {
	reader, err := job.cli.ContainerLogs(ctx, job.containerID, dCont.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
		Details:    false,
	})
	if err != nil {
		return fmt.Errorf("failed to follow logs for container %s: %w", job, err)
	}
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Split(scanTerminalLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		job.recordLine(line)
		handler(line)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

func (job *dockerJob) Wait(ctx context.Context) (int64, error) {
	code, err := waitForExit(ctx, job.cli, job.containerID)
	if err != nil {
		return -1, fmt.Errorf("failed to wait for container %s: %w", job, err)
	}

	if code == 0 {
		job.setStatus(DOWN)
	} else {
		job.setStatus(CRASHED)
	}

	return code, nil
}

func (job *dockerJob) Close(ctx context.Context, timeout time.Duration) error {
	if job.Status() == DEAD || job.Status() == INIT {
		return nil
	}

	if job.canStop() {
		job.setStatus(CLOSING)
		var timeoutSeconds int = int(timeout.Seconds())
		if err := job.cli.ContainerStop(ctx, job.containerID, dCont.StopOptions{Timeout: &timeoutSeconds}); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", job, err)
		}

		job.setStatus(DOWN)
	}

	if err := job.cli.ContainerRemove(ctx, job.containerID, dCont.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", job, err)
	}

	job.setStatus(DEAD)
	return nil
}

func (job *dockerJob) Tail() []string {
	job.Lock()
	defer job.Unlock()

	out := make([]string, len(job.tail))
	copy(out, job.tail)
	return out
}

func (job *dockerJob) ID() string {
	return job.containerID
}

func (job *dockerJob) Label() string {
	return job.label
}

func (job *dockerJob) Status() ContainerStatus {
	job.Lock()
	defer job.Unlock()

	return job.status
}

func (job *dockerJob) String() string {
	if len(job.containerID) < 10 {
		return fmt.Sprintf("%v[...]", job.label)
	}

	return fmt.Sprintf("%v[%v]", job.label, job.containerID[:10])
}

func (job *dockerJob) canStop() bool {
	stat := job.Status()
	return stat == CREATED || stat == UP
}

func (job *dockerJob) setStatus(stat ContainerStatus) {
	job.Lock()
	defer job.Unlock()
	if job.status == DEAD {
		return
	}

	dockerLogger.Emit(logger.VERBOSE, "Container %s - Status change: %s\n", job.label, stat)
	job.status = stat
}

func (job *dockerJob) recordLine(line string) {
	job.Lock()
	defer job.Unlock()

	if len(job.tail) == tailSize {
		job.tail = append(job.tail[:0], job.tail[1:]...)
	}
	job.tail = append(job.tail, line)
}

// waitForExit blocks until the container is not running, and returns the exit code
// reported by the Docker daemon.
func waitForExit(ctx context.Context, cli client.APIClient, containerID string) (int64, error) {
	statusCh, errCh := cli.ContainerWait(ctx, containerID, dCont.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container exited with error: %s", status.Error.Message)
		}

		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// scanTerminalLines is a bufio.SplitFunc which splits on either '\n' or '\r'.
func scanTerminalLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
