package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/hbomb79/hevcify/pkg/logger"
)

var dockerLogger = logger.Get("Docker")

/**
 * The docker package provides utilities for creating, running and cleaning up the short-lived
 * containers used to probe and transcode media. Every container created by a Runtime is labelled
 * with the runtime's run ID so that anything left behind can be pruned when the run ends.
 */

const (
	ManagedLabel = "hevcify.managed"
	RunLabel     = "hevcify.run"
)

type Runtime interface {
	// Pull fetches the image reference provided to the local docker daemon, retrying
	// with an exponential backoff if the pull fails.
	Pull(ctx context.Context, ref string) error

	// RunEphemeral creates and starts a container using the spec provided, waits for
	// it to exit and returns everything the container wrote to stdout. The container is
	// always removed before returning. A non-zero exit code is returned as an error.
	RunEphemeral(ctx context.Context, spec ContainerSpec) ([]byte, error)

	// Start creates and starts a detached container. The returned Job must be
	// closed by the caller.
	Start(ctx context.Context, spec ContainerSpec) (Job, error)

	// Prune removes any stopped containers created by this runtime.
	Prune(ctx context.Context) error

	// RunID returns the identifier used to label containers created by this runtime.
	RunID() uuid.UUID
}

// Options configures the behaviour of a Runtime.
type Options struct {
	// PullAttempts is the maximum number of times an image pull is attempted. Zero
	// is treated as a single attempt.
	PullAttempts uint64

	// PullInterval is the initial delay between image pull retries
	PullInterval time.Duration

	// RemoveTimeout bounds the cleanup of ephemeral containers, which is
	// performed even when the context of the run has been cancelled.
	RemoveTimeout time.Duration
}

type PullEvent struct {
	Status         string `json:"status"`
	Error          string `json:"error"`
	Progress       string `json:"progress"`
	ProgressDetail struct {
		Current int `json:"current"`
		Total   int `json:"total"`
	} `json:"progressDetail"`
}

type docker struct {
	cli     client.APIClient
	runID   uuid.UUID
	options Options
}

// NewClient constructs a docker API client using the environment (DOCKER_HOST et al.)
func NewClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func NewRuntime(cli client.APIClient, options Options) Runtime {
	if options.RemoveTimeout <= 0 {
		options.RemoveTimeout = 10 * time.Second
	}

	return &docker{cli: cli, runID: uuid.New(), options: options}
}

func (docker *docker) RunID() uuid.UUID { return docker.runID }

func (docker *docker) Pull(ctx context.Context, ref string) error {
	policy := backoff.NewExponentialBackOff()
	if docker.options.PullInterval > 0 {
		policy.InitialInterval = docker.options.PullInterval
	}

	attempt := 0
	pull := func() error {
		attempt++
		dockerLogger.Emit(logger.INFO, "Pulling image %s (attempt %d)\n", ref, attempt)
		return docker.pullOnce(ctx, ref)
	}

	notify := func(err error, next time.Duration) {
		dockerLogger.Emit(logger.WARNING, "Pull of image %s failed: %v (retrying in %s)\n", ref, err, next)
	}

	retries := uint64(0)
	if docker.options.PullAttempts > 1 {
		retries = docker.options.PullAttempts - 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)
	if err := backoff.RetryNotify(pull, b, notify); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	dockerLogger.Emit(logger.SUCCESS, "Image %s is up to date\n", ref)
	return nil
}

func (docker *docker) pullOnce(ctx context.Context, ref string) error {
	out, err := docker.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer out.Close()

	eventStream := json.NewDecoder(out)
	for {
		var event PullEvent
		if err := eventStream.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("malformed pull event: %w", err)
		}

		// The daemon reports failures such as an unknown manifest as an event, which
		// will not succeed on a retry.
		if event.Error != "" {
			return backoff.Permanent(errors.New(event.Error))
		}

		docker.parsePullEvent(ref, &event)
	}
}

func (docker *docker) RunEphemeral(ctx context.Context, spec ContainerSpec) ([]byte, error) {
	id, err := docker.create(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer docker.remove(ctx, spec.Name, id)

	if err := docker.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	code, err := waitForExit(ctx, docker.cli, id)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for container %s: %w", spec.Name, err)
	}

	reader, err := docker.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read output of container %s: %w", spec.Name, err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to demultiplex output of container %s: %w", spec.Name, err)
	}

	if code != 0 {
		return stdout.Bytes(), fmt.Errorf("container %s exited with code %d: %s", spec.Name, code, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func (docker *docker) Start(ctx context.Context, spec ContainerSpec) (Job, error) {
	job := newDockerJob(docker.cli, spec.Name)

	id, err := docker.create(ctx, spec)
	if err != nil {
		return nil, err
	}
	job.containerID = id
	job.setStatus(CREATED)

	if err := docker.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		docker.remove(ctx, spec.Name, id)
		job.setStatus(DEAD)
		return nil, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}
	job.setStatus(UP)

	dockerLogger.Emit(logger.NEW, "Container %s started\n", job)
	return job, nil
}

func (docker *docker) Prune(ctx context.Context) error {
	args := filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", RunLabel, docker.runID)))
	if _, err := docker.cli.ContainersPrune(ctx, args); err != nil {
		return fmt.Errorf("failed to prune containers for run %s: %w", docker.runID, err)
	}

	return nil
}

func (docker *docker) create(ctx context.Context, spec ContainerSpec) (string, error) {
	labels := make(map[string]string, len(spec.Labels)+2)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[ManagedLabel] = "true"
	labels[RunLabel] = docker.runID.String()
	spec.Labels = labels

	resp, err := docker.cli.ContainerCreate(ctx, spec.containerConfig(), spec.hostConfig(), nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s from image %s: %w", spec.Name, spec.Image, err)
	}

	for _, w := range resp.Warnings {
		dockerLogger.Emit(logger.WARNING, "Container %s: %s\n", spec.Name, w)
	}

	return resp.ID, nil
}

// remove force-removes the container. Removal is attempted even if the context provided
// has been cancelled, as the container would otherwise be leaked.
func (docker *docker) remove(ctx context.Context, name string, id string) {
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), docker.options.RemoveTimeout)
	defer cancel()

	if err := docker.cli.ContainerRemove(removeCtx, id, container.RemoveOptions{Force: true}); err != nil {
		dockerLogger.Emit(logger.ERROR, "Failed to remove container %s: %v\n", name, err)
		return
	}

	dockerLogger.Emit(logger.REMOVE, "Removed container %s\n", name)
}

func (docker *docker) parsePullEvent(ref string, ev *PullEvent) {
	if ev.Progress != "" {
		dockerLogger.Emit(logger.VERBOSE, "%s: %s\n", ref, ev.Progress)
	} else if ev.Status != "" {
		dockerLogger.Emit(logger.DEBUG, "%s: %s\n", ref, ev.Status)
	} else {
		dockerLogger.Emit(logger.WARNING, "Pull of %s emitted unknown event %v\n", ref, ev)
	}
}
