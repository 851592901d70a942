package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hbomb79/hevcify/internal/streams"
)

// ProbeOutput is the JSON document printed by ffprobe when run
// with '-print_format json -show_format -show_streams'
type ProbeOutput struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ProbeStream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// ProbeArgs returns the ffprobe arguments used to inspect the file at path.
func ProbeArgs(path string, showStreams bool) []string {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format"}
	if showStreams {
		args = append(args, "-show_streams")
	}

	return append(args, "-i", path)
}

// ParseProbeOutput decodes the JSON output of ffprobe.
func ParseProbeOutput(data []byte) (*ProbeOutput, error) {
	var out ProbeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}

	return &out, nil
}

// Duration returns the duration of the probed file in seconds, or nil
// if ffprobe did not report one.
func (probe *ProbeOutput) Duration() *float64 {
	raw := strings.TrimSpace(probe.Format.Duration)
	if raw == "" || raw == "N/A" {
		return nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}

	return &v
}

// MediaStreams converts the probed streams to the form used for stream selection.
func (probe *ProbeOutput) MediaStreams() []streams.MediaStream {
	out := make([]streams.MediaStream, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		out = append(out, streams.MediaStream{
			Index:     s.Index,
			CodecType: s.CodecType,
			CodecName: s.CodecName,
			IsDefault: s.Disposition["default"] == 1,
			Language:  s.Tags["language"],
		})
	}

	return out
}
