// Package streams decides which of a file's probed media streams are
// carried through a transcode.
package streams

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hbomb79/hevcify/pkg/logger"
)

var log = logger.Get("Streams")

const (
	VideoType    = "video"
	AudioType    = "audio"
	SubtitleType = "subtitle"

	// EnglishLanguage is the language tag assumed for any stream which
	// does not declare one.
	EnglishLanguage = "eng"
)

var ErrUnsupportedStreamLayout = errors.New("unsupported stream layout")

// MediaStream is a single entry of a probed file's stream list.
type MediaStream struct {
	Index     int
	CodecType string
	CodecName string
	IsDefault bool
	Language  string
}

// Selection maps a stream index to the codec type of the stream
// selected at that index. At most one stream of each type is present.
type Selection map[int]string

// Indices returns the selected stream indices in ascending order.
func (s Selection) Indices() []int {
	out := make([]int, 0, len(s))
	for idx := range s {
		out = append(out, idx)
	}

	sort.Ints(out)
	return out
}

// Has returns true if a stream of the given codec type has been selected.
func (s Selection) Has(codecType string) bool {
	for _, t := range s {
		if t == codecType {
			return true
		}
	}

	return false
}

func (s Selection) String() string {
	parts := make([]string, 0, len(s))
	for _, idx := range s.Indices() {
		parts = append(parts, fmt.Sprintf("%d: %s", idx, s[idx]))
	}

	return strings.Join(parts, ", ")
}

// acceptance describes which branch of the acceptance rule admitted a stream.
type acceptance int

const (
	acceptNotDefault acceptance = iota
	acceptDefaultEnglish
	acceptDefaultOther
)

func (a acceptance) String() string {
	return []string{"not default", "default, english", "default, other language"}[a]
}

// Select scans the streams in order, selecting the first stream of each
// supported codec type (video, audio, subtitle). The codec name of the first
// video stream is returned alongside the selection.
//
// An error wrapping ErrUnsupportedStreamLayout is returned if the selection
// does not contain both a video and an audio stream.
func Select(streams []MediaStream) (Selection, string, error) {
	selection := make(Selection)
	primaryCodec := ""
	seenVideo := false

	for _, stream := range streams {
		if !isSupportedType(stream.CodecType) {
			continue
		}

		if stream.CodecType == VideoType && !seenVideo {
			primaryCodec = stream.CodecName
			seenVideo = true
		}

		if selection.Has(stream.CodecType) {
			continue
		}

		reason := accept(stream)
		log.Emit(logger.DEBUG, "Selected stream %d (%s) - %s\n", stream.Index, stream.CodecType, reason)
		selection[stream.Index] = stream.CodecType
	}

	if !selection.Has(VideoType) || !selection.Has(AudioType) {
		return nil, "", fmt.Errorf("%w: selection {%s} requires both a video and an audio stream", ErrUnsupportedStreamLayout, selection)
	}

	return selection, primaryCodec, nil
}

// accept evaluates the disposition/language acceptance rule for a candidate stream.
// Every branch of the rule admits the candidate.
func accept(stream MediaStream) acceptance {
	if !stream.IsDefault {
		return acceptNotDefault
	}

	lang := stream.Language
	if lang == "" {
		lang = EnglishLanguage
	}
	if lang == EnglishLanguage {
		return acceptDefaultEnglish
	}

	return acceptDefaultOther
}

func isSupportedType(codecType string) bool {
	switch codecType {
	case VideoType, AudioType, SubtitleType:
		return true
	default:
		return false
	}
}
