package ffmpeg

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/hevcify/internal/streams"
	"github.com/labstack/gommon/random"
)

// EncodeRequest describes a single transcode of InputPath to OutputPath
type EncodeRequest struct {
	InputPath  string
	OutputPath string
	InputCodec string
	Selection  streams.Selection

	// Duration is the duration of the input in seconds, if known. It
	// is only used to report progress.
	Duration *float64
}

// EncodeArgs composes the ffmpeg argument vector for the request. Input options are
// placed before '-i', followed by one '-map' per selected stream, the output options
// and finally the output path. The result is identical for identical requests.
func EncodeArgs(config Config, req EncodeRequest) []string {
	args := []string{
		"-hide_banner",
		"-analyzeduration", config.AnalyzeDuration,
		"-probesize", config.ProbeSize,
		"-vsync", "0",
		"-fflags", "+igndts",
		"-flags", "+global_header",
	}

	if config.Hwaccel != "" {
		args = append(args, "-hwaccel", config.Hwaccel)
	}
	if decoder := config.Decoder(req.InputCodec); decoder != "" {
		args = append(args, "-c:v", decoder)
	}
	if config.HwaccelOutputFormat != "" {
		args = append(args, "-hwaccel_output_format", config.HwaccelOutputFormat)
	}

	args = append(args, "-i", req.InputPath)
	for _, idx := range req.Selection.Indices() {
		args = append(args, "-map", fmt.Sprintf("0:%d", idx))
	}

	args = append(args, outputOptions(config).GetStrArguments()...)
	args = append(args,
		"-c:s", "copy",
		"-crf", strconv.Itoa(config.Crf),
		"-max_muxing_queue_size", strconv.Itoa(config.MaxMuxingQueueSize),
	)

	return append(args, req.OutputPath)
}

func outputOptions(config Config) ffmpeg.Options {
	videoCodec := config.VideoEncoder
	audioCodec := "copy"
	overwrite := true

	return ffmpeg.Options{
		VideoCodec: &videoCodec,
		AudioCodec: &audioCodec,
		Overwrite:  &overwrite,
	}
}

var containerNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

const containerNamePrefixLength = 13

// ContainerName builds a unique, recognisable container name for a task
// operating on the file at path. The name is formed from the first few
// alphanumeric characters of the filename, the task and a random suffix.
func ContainerName(task string, path string) string {
	clean := containerNameSanitizer.ReplaceAllString(filepath.Base(path), "")
	if len(clean) > containerNamePrefixLength {
		clean = clean[:containerNamePrefixLength]
	}
	if clean == "" {
		clean = "hevcify"
	}

	return fmt.Sprintf("%s_%s_%s", clean, task, random.String(4, random.Uppercase))
}
