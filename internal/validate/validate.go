package validate

import (
	"context"
	"errors"
	"math"
	"os"
	"time"
)

const (
	DefaultSizeThreshold     int64 = 40960
	DefaultDurationTolerance       = 60 * time.Second
)

// DurationProber reports the duration in seconds of the media file at path. A nil duration
// is returned when the file does not exist or has no reported duration.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (*float64, error)
}

// NonTrivial returns true if the file at path exists and its size is strictly greater
// than the threshold (in bytes). The size of the file is returned alongside, and is
// zero if the file does not exist. Errors other than the file not existing are returned.
func NonTrivial(path string, threshold int64) (bool, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}

		return false, 0, err
	}

	return info.Size() > threshold, info.Size(), nil
}

// Exists returns true if anything exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Equivalent returns true if both durations are known and differ by less than the tolerance.
func Equivalent(a, b *float64, tolerance time.Duration) bool {
	if a == nil || b == nil {
		return false
	}

	return math.Abs(*a-*b) < tolerance.Seconds()
}

// DurationsMatch probes both files and reports whether their durations are equivalent.
func DurationsMatch(ctx context.Context, prober DurationProber, a, b string, tolerance time.Duration) (bool, error) {
	durA, err := prober.ProbeDuration(ctx, a)
	if err != nil {
		return false, err
	}
	durB, err := prober.ProbeDuration(ctx, b)
	if err != nil {
		return false, err
	}

	return Equivalent(durA, durB, tolerance), nil
}
