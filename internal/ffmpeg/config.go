package ffmpeg

import "fmt"

// Config is the subset of the configuration concerning the ffmpeg image and the
// arguments passed to the ffmpeg/ffprobe binaries inside of it.
type Config struct {
	Image               string            `yaml:"image" env:"FFMPEG_IMAGE" env-default:"jrottenberg/ffmpeg" validate:"required"`
	Tag                 string            `yaml:"tag" env:"FFMPEG_TAG" env-default:"4.1-nvidia" validate:"required"`
	Runtime             string            `yaml:"runtime" env:"FFMPEG_RUNTIME" env-default:"nvidia"`
	Devices             []string          `yaml:"devices" env:"FFMPEG_DEVICES" env-default:"/dev/dri:/dev/dri"`
	Env                 []string          `yaml:"env" env:"FFMPEG_ENV" env-default:"PUID=1001,PGID=1001,AV_LOG_FORCE_NOCOLOR=1"`
	FfmpegBinaryPath    string            `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY_PATH" env-default:"/usr/local/bin/ffmpeg" validate:"required"`
	FfprobeBinaryPath   string            `yaml:"ffprobe_binary" env:"FFPROBE_BINARY_PATH" env-default:"/usr/local/bin/ffprobe" validate:"required"`
	VideoEncoder        string            `yaml:"video_encoder" env:"FFMPEG_VIDEO_ENCODER" env-default:"hevc_nvenc" validate:"required"`
	Hwaccel             string            `yaml:"hwaccel" env:"FFMPEG_HWACCEL" env-default:"nvdec"`
	HwaccelOutputFormat string            `yaml:"hwaccel_output_format" env:"FFMPEG_HWACCEL_OUTPUT_FORMAT" env-default:"cuda"`
	Decoders            map[string]string `yaml:"decoders" env:"FFMPEG_DECODERS" env-default:"h264:h264_cuvid"`
	Crf                 int               `yaml:"crf" env:"FFMPEG_CRF" env-default:"1" validate:"gte=0,lte=51"`
	AnalyzeDuration     string            `yaml:"analyze_duration" env:"FFMPEG_ANALYZE_DURATION" env-default:"10M"`
	ProbeSize           string            `yaml:"probe_size" env:"FFMPEG_PROBE_SIZE" env-default:"10M"`
	MaxMuxingQueueSize  int               `yaml:"max_muxing_queue_size" env:"FFMPEG_MAX_MUXING_QUEUE_SIZE" env-default:"2048" validate:"gt=0"`
}

// ImageRef returns the full image reference (image:tag) used for all containers.
func (config Config) ImageRef() string {
	return fmt.Sprintf("%s:%s", config.Image, config.Tag)
}

// Decoder returns the decoder which should be used for the given
// input codec. Codecs without an entry in Decoders are decoded using
// the decoder of the same name.
func (config Config) Decoder(codec string) string {
	if dec, ok := config.Decoders[codec]; ok && dec != "" {
		return dec
	}

	return codec
}
