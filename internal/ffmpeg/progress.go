package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress is a single stats update parsed from ffmpeg's output, such as:
//
//	frame= 1200 fps=240 q=-0.0 size=   10240kB time=00:00:50.04 bitrate=1676.4kbits/s speed=10.0x
type Progress struct {
	Line            string
	FramesProcessed int
	FPS             float64
	CurrentTime     time.Duration
	CurrentBitrate  string
	Speed           string

	// Progress is the percentage (0-100) of the input processed, or -1 if
	// the duration of the input is not known.
	Progress float64
}

var progressFieldMatcher = regexp.MustCompile(`(\w+)=\s*(\S+)`)

// ParseProgress parses a line of ffmpeg output. Only stats lines (those that report
// the encode speed) are considered progress; ok is false for any other line. The
// duration provided (in seconds) is used to derive the percentage complete.
func ParseProgress(line string, duration *float64) (Progress, bool) {
	if !strings.Contains(line, "speed") {
		return Progress{}, false
	}

	prog := Progress{Line: line, Progress: -1}
	for _, match := range progressFieldMatcher.FindAllStringSubmatch(line, -1) {
		value := match[2]
		switch match[1] {
		case "frame":
			prog.FramesProcessed, _ = strconv.Atoi(value)
		case "fps":
			prog.FPS, _ = strconv.ParseFloat(value, 64)
		case "time":
			prog.CurrentTime = parseTimestamp(value)
		case "bitrate":
			prog.CurrentBitrate = value
		case "speed":
			prog.Speed = value
		}
	}

	if duration != nil && *duration > 0 {
		pct := prog.CurrentTime.Seconds() / *duration * 100
		if pct > 100 {
			pct = 100
		}
		prog.Progress = pct
	}

	return prog, true
}

// parseTimestamp parses an ffmpeg 'HH:MM:SS.ms' timestamp. Malformed
// timestamps (including ffmpeg's 'N/A') are treated as zero.
func parseTimestamp(ts string) time.Duration {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0
	}

	hours, errH := strconv.Atoi(parts[0])
	minutes, errM := strconv.Atoi(parts[1])
	seconds, errS := strconv.ParseFloat(parts[2], 64)
	if errH != nil || errM != nil || errS != nil {
		return 0
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}
