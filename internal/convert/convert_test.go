package convert_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hbomb79/hevcify/internal/convert"
	"github.com/hbomb79/hevcify/internal/ffmpeg"
	"github.com/hbomb79/hevcify/internal/streams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

const (
	threshold   = 16
	bigContent  = "this content is comfortably larger than the threshold"
	tinyContent = "tiny"
)

type mockProber struct {
	mock.Mock
}

func (mock *mockProber) ProbeDuration(ctx context.Context, path string) (*float64, error) {
	args := mock.Called(path)
	if v, ok := args.Get(0).(*float64); ok {
		return v, args.Error(1)
	}

	return nil, args.Error(1)
}

func (mock *mockProber) ProbeStreams(ctx context.Context, path string) ([]streams.MediaStream, error) {
	args := mock.Called(path)
	if v, ok := args.Get(0).([]streams.MediaStream); ok {
		return v, args.Error(1)
	}

	return nil, args.Error(1)
}

type mockEncoder struct {
	mock.Mock
}

func (mock *mockEncoder) Command(req ffmpeg.EncodeRequest) []string {
	args := mock.Called(req)
	//nolint:forcetypeassert
	return args.Get(0).([]string)
}

func (mock *mockEncoder) Encode(ctx context.Context, req ffmpeg.EncodeRequest, progressCallback ffmpeg.ProgressCallback) error {
	args := mock.Called(req, progressCallback)
	return args.Error(0)
}

func seconds(s float64) *float64 { return &s }

var probedStreams = []streams.MediaStream{
	{Index: 0, CodecType: "video", CodecName: "h264", IsDefault: true},
	{Index: 1, CodecType: "audio", CodecName: "ac3", IsDefault: true, Language: "eng"},
	{Index: 2, CodecType: "subtitle", CodecName: "subrip"},
}

func newConverter(prober *mockProber, encoder *mockEncoder, mutate ...func(*convert.Options)) *convert.Converter {
	opts := convert.Options{
		SizeThreshold:     threshold,
		DurationTolerance: time.Minute,
		OwnerUID:          -1,
		OwnerGID:          -1,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return convert.New(prober, encoder, nil, opts)
}

// writesOutput simulates ffmpeg creating the output file during the encode.
func writesOutput(t *testing.T, path string) func(mock.Arguments) {
	return func(mock.Arguments) {
		require.NoError(t, os.WriteFile(path, []byte(bigContent), 0o644))
	}
}

func Test_Run_Converts(t *testing.T) {
	dir := fs.NewDir(t, "convert", fs.WithFile("movie-x264.mp4", bigContent))
	input, output := dir.Join("movie-x264.mp4"), dir.Join("movie-HEVC.mkv")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(probedStreams, nil).Once()
	prober.On("ProbeDuration", input).Return(seconds(3600), nil).Once()
	prober.On("ProbeDuration", output).Return(seconds(3601), nil).Once()
	encoder.On("Encode", mock.MatchedBy(func(req ffmpeg.EncodeRequest) bool {
		return req.InputPath == input &&
			req.OutputPath == output &&
			req.InputCodec == "h264" &&
			assert.ObjectsAreEqual(streams.Selection{0: "video", 1: "audio", 2: "subtitle"}, req.Selection) &&
			req.Duration != nil && *req.Duration == 3600
	}), mock.Anything).Run(writesOutput(t, output)).Return(nil).Once()

	result, err := newConverter(prober, encoder).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, convert.Converted, result.Outcome)
	assert.Equal(t, convert.PathPair{Input: input, Output: output}, result.Paths)
	assert.NoFileExists(t, input, "verified input should be removed")
	assert.FileExists(t, output)
	prober.AssertExpectations(t)
	encoder.AssertExpectations(t)
}

func Test_Run_DurationMismatchRetainsInput(t *testing.T) {
	dir := fs.NewDir(t, "convert", fs.WithFile("movie-XVID.avi", bigContent))
	input, output := dir.Join("movie-XVID.avi"), dir.Join("movie-HEVC.mkv")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(probedStreams, nil)
	prober.On("ProbeDuration", input).Return(seconds(3600), nil)
	prober.On("ProbeDuration", output).Return(seconds(3661), nil)
	encoder.On("Encode", mock.Anything, mock.Anything).Run(writesOutput(t, output)).Return(nil)

	result, err := newConverter(prober, encoder).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, convert.DurationMismatch, result.Outcome)
	assert.FileExists(t, input)
	assert.FileExists(t, output)
}

func Test_Run_MissingInput(t *testing.T) {
	dir := fs.NewDir(t, "convert")
	prober, encoder := &mockProber{}, &mockEncoder{}

	_, err := newConverter(prober, encoder).Run(context.Background(), dir.Join("movie-x264.mp4"))
	assert.ErrorIs(t, err, convert.ErrInputMissingOrEmpty)
	prober.AssertNotCalled(t, "ProbeStreams", mock.Anything)
}

func Test_Run_TrivialInput(t *testing.T) {
	tests := []struct {
		summary  string
		purge    bool
		retained bool
	}{
		{"retained by default", false, true},
		{"removed when purging", true, false},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			dir := fs.NewDir(t, "convert", fs.WithFile("movie-x264.mp4", tinyContent))
			input := dir.Join("movie-x264.mp4")

			conv := newConverter(&mockProber{}, &mockEncoder{}, func(o *convert.Options) { o.PurgeTrivialInputs = test.purge })
			_, err := conv.Run(context.Background(), input)
			assert.ErrorIs(t, err, convert.ErrInputMissingOrEmpty)

			if test.retained {
				assert.FileExists(t, input)
			} else {
				assert.NoFileExists(t, input)
			}
		})
	}
}

func Test_Run_AlreadyHEVCByName(t *testing.T) {
	dir := fs.NewDir(t, "convert", fs.WithFile("clip_x265.mp4", bigContent))
	prober, encoder := &mockProber{}, &mockEncoder{}

	result, err := newConverter(prober, encoder).Run(context.Background(), dir.Join("clip_x265.mp4"))
	require.NoError(t, err)

	assert.Equal(t, convert.AlreadyConverted, result.Outcome)
	assert.Contains(t, result.Reason, "x265")
	assert.FileExists(t, dir.Join("clip_x265.mp4"))
	prober.AssertNotCalled(t, "ProbeStreams", mock.Anything)
}

func Test_Run_ExistingOutputMatches(t *testing.T) {
	dir := fs.NewDir(t, "convert",
		fs.WithFile("movie-x264.mp4", bigContent),
		fs.WithFile("movie-HEVC.mkv", bigContent))
	input, output := dir.Join("movie-x264.mp4"), dir.Join("movie-HEVC.mkv")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeDuration", input).Return(seconds(3600), nil)
	prober.On("ProbeDuration", output).Return(seconds(3601), nil)

	result, err := newConverter(prober, encoder).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, convert.AlreadyConverted, result.Outcome)
	assert.NoFileExists(t, input)
	assert.FileExists(t, output)
	encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
}

func Test_Run_ExistingOutputDiffersIsReconverted(t *testing.T) {
	dir := fs.NewDir(t, "convert",
		fs.WithFile("movie-x264.mp4", bigContent),
		fs.WithFile("movie-HEVC.mkv", bigContent))
	input, output := dir.Join("movie-x264.mp4"), dir.Join("movie-HEVC.mkv")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(probedStreams, nil)
	prober.On("ProbeDuration", input).Return(seconds(3600), nil)
	prober.On("ProbeDuration", output).Return(seconds(1200), nil).Once()
	prober.On("ProbeDuration", output).Return(seconds(3600), nil).Once()
	encoder.On("Encode", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := newConverter(prober, encoder).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, convert.Converted, result.Outcome)
	encoder.AssertExpectations(t)
}

func Test_Run_StaleTrivialOutputRemoved(t *testing.T) {
	dir := fs.NewDir(t, "convert",
		fs.WithFile("movie-x264.mp4", bigContent),
		fs.WithFile("movie-HEVC.mkv", tinyContent))
	input, output := dir.Join("movie-x264.mp4"), dir.Join("movie-HEVC.mkv")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(nil, errors.New("boom"))

	_, err := newConverter(prober, encoder).Run(context.Background(), input)
	assert.ErrorIs(t, err, convert.ErrProbeFailure)
	assert.NoFileExists(t, output)
	assert.FileExists(t, input)
}

func Test_Run_UnsupportedStreamLayout(t *testing.T) {
	dir := fs.NewDir(t, "convert", fs.WithFile("movie-x264.mp4", bigContent))
	input := dir.Join("movie-x264.mp4")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return([]streams.MediaStream{{Index: 0, CodecType: "subtitle"}}, nil)

	_, err := newConverter(prober, encoder).Run(context.Background(), input)
	assert.ErrorIs(t, err, streams.ErrUnsupportedStreamLayout)
	assert.FileExists(t, input)
	encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
}

func Test_Run_ConversionFailure(t *testing.T) {
	dir := fs.NewDir(t, "convert", fs.WithFile("movie-x264.mp4", bigContent))
	input := dir.Join("movie-x264.mp4")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(probedStreams, nil)
	prober.On("ProbeDuration", input).Return(seconds(3600), nil)
	encoder.On("Encode", mock.Anything, mock.Anything).Return(&ffmpeg.EncodeError{ExitCode: 1, Tail: []string{"No NVENC capable devices found"}})

	_, err := newConverter(prober, encoder).Run(context.Background(), input)
	assert.ErrorIs(t, err, convert.ErrConversionFailure)

	var encodeErr *ffmpeg.EncodeError
	require.ErrorAs(t, err, &encodeErr)
	assert.EqualValues(t, 1, encodeErr.ExitCode)
	assert.FileExists(t, input)
}

func Test_Run_DryRun(t *testing.T) {
	dir := fs.NewDir(t, "convert",
		fs.WithFile("movie-x264.mp4", bigContent),
		fs.WithFile("movie-HEVC.mkv", tinyContent))
	input := dir.Join("movie-x264.mp4")

	prober, encoder := &mockProber{}, &mockEncoder{}
	prober.On("ProbeStreams", input).Return(probedStreams, nil)
	prober.On("ProbeDuration", input).Return(seconds(3600), nil)
	encoder.On("Command", mock.Anything).Return([]string{"-i", input}).Once()

	result, err := newConverter(prober, encoder, func(o *convert.Options) { o.DryRun = true }).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, convert.DryRun, result.Outcome)
	assert.FileExists(t, input)
	assert.FileExists(t, dir.Join("movie-HEVC.mkv"), "dry run must not remove anything")
	encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
	encoder.AssertExpectations(t)
}

func Test_ProgressReporter_Milestones(t *testing.T) {
	buf := &bytes.Buffer{}
	reporter := convert.NewProgressReporter(buf, 25)

	for _, pct := range []float64{0, 10, 24.9, 25, 30, 50.5, 70, 100} {
		reporter.Update(ffmpeg.Progress{Progress: pct, Speed: "2x"})
	}
	reporter.Update(ffmpeg.Progress{Progress: -1, Line: "frame=1 speed=N/A"})
	reporter.Finish()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "  0.0%"))
	assert.True(t, strings.HasPrefix(lines[1], " 25.0%"))
	assert.True(t, strings.HasPrefix(lines[2], " 50.5%"))
	assert.True(t, strings.HasPrefix(lines[3], "100.0%"))
}

func Test_ProgressReporter_CompletionPrintedOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	reporter := convert.NewProgressReporter(buf, 10)

	reporter.Update(ffmpeg.Progress{Progress: 95})
	for i := 0; i < 5; i++ {
		reporter.Update(ffmpeg.Progress{Progress: 100})
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "100.0%"))

	reporter.Finish()
	reporter.Update(ffmpeg.Progress{Progress: 100})
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"), "a finished reporter starts afresh")
}
