// Package convert sequences a single conversion: input validation, output
// name derivation, the already-converted check, stream selection, the encode
// itself and the post-encode verification/cleanup.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hbomb79/hevcify/internal/ffmpeg"
	"github.com/hbomb79/hevcify/internal/naming"
	"github.com/hbomb79/hevcify/internal/streams"
	"github.com/hbomb79/hevcify/internal/validate"
	"github.com/hbomb79/hevcify/pkg/logger"
)

var log = logger.Get("Convert")

var (
	ErrInputMissingOrEmpty = errors.New("input is missing or empty")
	ErrProbeFailure        = errors.New("probe failed")
	ErrConversionFailure   = errors.New("conversion failed")
)

type Outcome int

const (
	// Converted indicates the input was transcoded, verified and removed.
	Converted Outcome = iota
	// AlreadyConverted indicates no encode was required, either because the input
	// is named as HEVC or because a matching output already exists.
	AlreadyConverted
	// DurationMismatch indicates the encode completed, but the output duration does not
	// match the input. Both files are left in place.
	DurationMismatch
	// DryRun indicates the encode was planned but not performed.
	DryRun
)

func (o Outcome) String() string {
	return []string{"CONVERTED", "ALREADY_CONVERTED", "DURATION_MISMATCH", "DRY_RUN"}[o]
}

// PathPair holds the absolute input path, and the output path derived from it.
type PathPair struct {
	Input  string
	Output string
}

type Result struct {
	Outcome Outcome
	Paths   PathPair
	Elapsed time.Duration

	// Reason describes why the outcome was reached, such as the filename
	// token which identified the input as already converted.
	Reason string
}

type (
	Prober interface {
		validate.DurationProber
		ProbeStreams(ctx context.Context, path string) ([]streams.MediaStream, error)
	}

	Encoder interface {
		Command(req ffmpeg.EncodeRequest) []string
		Encode(ctx context.Context, req ffmpeg.EncodeRequest, progressCallback ffmpeg.ProgressCallback) error
	}
)

type Options struct {
	SizeThreshold      int64
	DurationTolerance  time.Duration
	PurgeTrivialInputs bool
	OwnerUID           int
	OwnerGID           int
	DryRun             bool
}

// Converter runs conversions using the Prober and Encoder provided. Progress
// of the encode is rendered to the ProgressReporter.
type Converter struct {
	prober   Prober
	encoder  Encoder
	progress *ProgressReporter
	opts     Options
}

func New(prober Prober, encoder Encoder, progress *ProgressReporter, opts Options) *Converter {
	if opts.DurationTolerance <= 0 {
		opts.DurationTolerance = validate.DefaultDurationTolerance
	}

	return &Converter{prober: prober, encoder: encoder, progress: progress, opts: opts}
}

// Run converts the file at inputPath. The returned Result describes the outcome
// when err is nil. Fatal conditions are reported as errors wrapping one of the
// sentinel errors of this package, or streams.ErrUnsupportedStreamLayout.
func (conv *Converter) Run(ctx context.Context, inputPath string) (Result, error) {
	start := time.Now()
	result, err := conv.run(ctx, inputPath)
	result.Elapsed = time.Since(start)

	return result, err
}

func (conv *Converter) run(ctx context.Context, inputPath string) (Result, error) {
	input, err := filepath.Abs(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrInputMissingOrEmpty, inputPath, err)
	}

	if err := conv.checkInput(input); err != nil {
		return Result{Paths: PathPair{Input: input}}, err
	}

	var paths PathPair
	switch outcome := naming.DeriveOutputName(input).(type) {
	case naming.AlreadyConverted:
		log.Emit(logger.INFO, "%s is already HEVC (token %q)\n", input, outcome.Token)
		return Result{Outcome: AlreadyConverted, Paths: PathPair{Input: input}, Reason: fmt.Sprintf("filename token %q", outcome.Token)}, nil
	case naming.Rewrite:
		paths = PathPair{Input: input, Output: outcome.Path}
	default:
		return Result{}, fmt.Errorf("unexpected output derivation %T", outcome)
	}

	log.Emit(logger.INFO, "Output for %s is %s\n", paths.Input, paths.Output)
	if done, err := conv.checkExistingOutput(ctx, paths); err != nil || done {
		if done {
			return Result{Outcome: AlreadyConverted, Paths: paths, Reason: "existing output matches input duration"}, nil
		}

		return Result{Paths: paths}, err
	}

	probed, err := conv.prober.ProbeStreams(ctx, paths.Input)
	if err != nil {
		return Result{Paths: paths}, fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}

	selection, codec, err := streams.Select(probed)
	if err != nil {
		return Result{Paths: paths}, err
	}
	log.Emit(logger.INFO, "Stream mapping: %s\n", selection)

	duration, err := conv.prober.ProbeDuration(ctx, paths.Input)
	if err != nil {
		return Result{Paths: paths}, fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}

	req := ffmpeg.EncodeRequest{
		InputPath:  paths.Input,
		OutputPath: paths.Output,
		InputCodec: codec,
		Selection:  selection,
		Duration:   duration,
	}

	if conv.opts.DryRun {
		log.Emit(logger.SUCCESS, "Dry run, ffmpeg command: ffmpeg %s\n", strings.Join(conv.encoder.Command(req), " "))
		return Result{Outcome: DryRun, Paths: paths}, nil
	}

	log.Emit(logger.INFO, "Converting: %s -> %s\n", paths.Input, paths.Output)
	encodeErr := conv.encoder.Encode(ctx, req, conv.progress.Update)
	conv.progress.Finish()
	if encodeErr != nil {
		var exitErr *ffmpeg.EncodeError
		if errors.As(encodeErr, &exitErr) {
			for _, line := range exitErr.Tail {
				log.Emit(logger.ERROR, "ffmpeg: %s\n", line)
			}
		}

		return Result{Paths: paths}, fmt.Errorf("%w: %w", ErrConversionFailure, encodeErr)
	}

	return conv.verify(ctx, paths, duration)
}

// checkInput ensures the input is non-trivial. A trivial input is removed
// if the options allow it.
func (conv *Converter) checkInput(input string) error {
	ok, size, err := validate.NonTrivial(input, conv.opts.SizeThreshold)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInputMissingOrEmpty, input, err)
	}
	if ok {
		log.Emit(logger.DEBUG, "Input %s is %s\n", input, humanize.Bytes(uint64(size)))
		return nil
	}

	if conv.opts.PurgeTrivialInputs && validate.Exists(input) {
		conv.remove(input, size)
	}

	return fmt.Errorf("%w: %s (%s)", ErrInputMissingOrEmpty, input, humanize.Bytes(uint64(size)))
}

// checkExistingOutput returns true if a previous conversion already produced a
// valid output, in which case the input is removed. Trivial outputs, left
// behind by a failed encode, are removed.
func (conv *Converter) checkExistingOutput(ctx context.Context, paths PathPair) (bool, error) {
	ok, size, err := validate.NonTrivial(paths.Output, conv.opts.SizeThreshold)
	if err != nil {
		return false, err
	}
	if !ok {
		if validate.Exists(paths.Output) {
			conv.remove(paths.Output, size)
		}

		return false, nil
	}

	match, err := validate.DurationsMatch(ctx, conv.prober, paths.Input, paths.Output, conv.opts.DurationTolerance)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}
	if !match {
		log.Emit(logger.WARNING, "Existing output %s does not match input duration, it will be overwritten\n", paths.Output)
		return false, nil
	}

	log.Emit(logger.INFO, "Existing output %s matches input\n", paths.Output)
	conv.remove(paths.Input, 0)
	return true, nil
}

// verify compares the duration of the output to the input. The input is only
// removed, and the output ownership adjusted, when the durations match.
func (conv *Converter) verify(ctx context.Context, paths PathPair, inputDuration *float64) (Result, error) {
	outputDuration, err := conv.prober.ProbeDuration(ctx, paths.Output)
	if err != nil {
		return Result{Paths: paths}, fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}

	if !validate.Equivalent(inputDuration, outputDuration, conv.opts.DurationTolerance) {
		log.Emit(logger.WARNING, "Duration of %s (%s) does not match %s (%s), input retained\n",
			paths.Output, formatDuration(outputDuration), paths.Input, formatDuration(inputDuration))
		return Result{Outcome: DurationMismatch, Paths: paths}, nil
	}

	conv.remove(paths.Input, 0)
	conv.chown(paths.Output)
	return Result{Outcome: Converted, Paths: paths}, nil
}

func (conv *Converter) remove(path string, size int64) {
	if conv.opts.DryRun {
		log.Emit(logger.INFO, "Dry run, not removing %s\n", path)
		return
	}

	if size > 0 {
		log.Emit(logger.INFO, "Removing %s file: %s\n", humanize.Bytes(uint64(size)), path)
	} else {
		log.Emit(logger.INFO, "Removing file: %s\n", path)
	}

	if err := os.Remove(path); err != nil {
		log.Emit(logger.ERROR, "Failed to remove %s: %v\n", path, err)
	}
}

func (conv *Converter) chown(path string) {
	if conv.opts.OwnerUID < 0 && conv.opts.OwnerGID < 0 {
		return
	}

	if err := os.Chown(path, conv.opts.OwnerUID, conv.opts.OwnerGID); err != nil {
		log.Emit(logger.WARNING, "Failed to change ownership of %s to %d:%d: %v\n", path, conv.opts.OwnerUID, conv.opts.OwnerGID, err)
	}
}

func formatDuration(d *float64) string {
	if d == nil {
		return "unknown"
	}

	return (time.Duration(*d * float64(time.Second))).Round(time.Second).String()
}
