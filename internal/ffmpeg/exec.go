package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/hevcify/internal/streams"
	"github.com/hbomb79/hevcify/pkg/docker"
	"github.com/hbomb79/hevcify/pkg/logger"
)

var log = logger.Get("FFmpeg")

// EncodeError is returned when the ffmpeg container exits unsuccessfully. The
// trailing lines of the container output are retained to aid diagnosis.
type EncodeError struct {
	ExitCode int64
	Tail     []string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
}

type ProgressCallback func(Progress)

// Toolkit runs ffprobe and ffmpeg inside of containers created using
// the docker Runtime provided. The directory of every file operated on is
// bind-mounted in to the container at the same path. Only the ffmpeg
// container uses the configured runtime; probes use the daemon default.
type Toolkit struct {
	runtime     docker.Runtime
	config      Config
	stopTimeout time.Duration
}

func NewToolkit(runtime docker.Runtime, config Config, stopTimeout time.Duration) *Toolkit {
	return &Toolkit{runtime: runtime, config: config, stopTimeout: stopTimeout}
}

// ProbeDuration returns the duration of the file at path in seconds. If the file does not
// exist, or ffprobe reports no duration for it, nil is returned.
func (toolkit *Toolkit) ProbeDuration(ctx context.Context, path string) (*float64, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	probe, err := toolkit.probe(ctx, "ffprobe_format", path, false)
	if err != nil {
		return nil, err
	}

	return probe.Duration(), nil
}

// ProbeStreams returns the streams contained within the file at path.
func (toolkit *Toolkit) ProbeStreams(ctx context.Context, path string) ([]streams.MediaStream, error) {
	probe, err := toolkit.probe(ctx, "ffprobe_streams", path, true)
	if err != nil {
		return nil, err
	}

	return probe.MediaStreams(), nil
}

func (toolkit *Toolkit) probe(ctx context.Context, task string, path string, showStreams bool) (*ProbeOutput, error) {
	spec := toolkit.containerSpec(task, path, toolkit.config.FfprobeBinaryPath, ProbeArgs(path, showStreams))
	log.Emit(logger.DEBUG, "Probing %s using container %s\n", path, spec.Name)

	out, err := toolkit.runtime.RunEphemeral(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	return ParseProbeOutput(out)
}

// Command returns the ffmpeg arguments which Encode would use for the request.
func (toolkit *Toolkit) Command(req EncodeRequest) []string {
	return EncodeArgs(toolkit.config, req)
}

// Encode runs the transcode described by the request, blocking until ffmpeg exits. Each
// progress update reported by ffmpeg is delivered to the callback. The ffmpeg container is
// stopped and removed before returning, including when the context is cancelled.
func (toolkit *Toolkit) Encode(ctx context.Context, req EncodeRequest, progressCallback ProgressCallback) (err error) {
	spec := toolkit.containerSpec("ffmpeg", req.InputPath, toolkit.config.FfmpegBinaryPath, toolkit.Command(req))
	spec.Runtime = toolkit.config.Runtime
	if outDir := filepath.Dir(req.OutputPath); outDir != filepath.Dir(req.InputPath) {
		spec.Binds = append(spec.Binds, fmt.Sprintf("%s:%s", outDir, outDir))
	}

	log.Emit(logger.DEBUG, "Starting ffmpeg: %s\n", strings.Join(spec.Cmd, " "))
	job, err := toolkit.runtime.Start(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to start ffmpeg container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), toolkit.stopTimeout+10*time.Second)
		defer cancel()

		if closeErr := job.Close(closeCtx, toolkit.stopTimeout); closeErr != nil {
			log.Emit(logger.ERROR, "Failed to clean up ffmpeg container %s: %v\n", job.Label(), closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}()

	followErr := job.Follow(ctx, func(line string) {
		if prog, ok := ParseProgress(line, req.Duration); ok {
			progressCallback(prog)
			return
		}

		log.Emit(logger.VERBOSE, "%s\n", line)
	})
	if ctx.Err() != nil {
		return fmt.Errorf("transcode of %s interrupted: %w", req.InputPath, ctx.Err())
	}
	if followErr != nil {
		log.Emit(logger.WARNING, "Lost output of ffmpeg container %s: %v\n", job.Label(), followErr)
	}

	code, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &EncodeError{ExitCode: code, Tail: job.Tail()}
	}

	return nil
}

func (toolkit *Toolkit) containerSpec(task string, path string, entrypoint string, args []string) docker.ContainerSpec {
	dir := filepath.Dir(path)
	return docker.ContainerSpec{
		Name:       ContainerName(task, path),
		Image:      toolkit.config.ImageRef(),
		Entrypoint: []string{entrypoint},
		Cmd:        args,
		Env:        toolkit.config.Env,
		Binds:      []string{fmt.Sprintf("%s:%s", dir, dir)},
		Devices:    toolkit.config.Devices,
		Labels:     map[string]string{"hevcify.task": task},
	}
}
