// Package ffmpeg wraps the external media inspection/transcoding tool
// behind the narrow contract the analysis pipeline needs: probing a file
// for metadata and extracting a single thumbnail frame.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("FFmpeg")

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"FORMAT_FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_binary" env:"FORMAT_FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
}

// ThumbnailResolution is the frame size requested from ffmpeg when
// generating thumbnails.
const ThumbnailResolution = "320x240"

type MediaTool struct {
	config Config
}

func New(config Config) *MediaTool {
	return &MediaTool{config: config}
}

// Probe runs ffprobe against the file at the given path and returns the
// raw metadata reported by the tool.
func (tool *MediaTool) Probe(path string) (transcoder.Metadata, error) {
	trans := ffmpeg.New(&ffmpeg.Config{
		FfmpegBinPath:  tool.config.FfmpegBinPath,
		FfprobeBinPath: tool.config.FfprobeBinPath,
	}).Input(path)

	metadata, err := trans.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	return metadata, nil
}

// ProbeDurationSecs probes the file and returns its container duration,
// rounded to the nearest whole second. The context is accepted to match
// the pipeline's stage contract; probing is a short-lived invocation and
// the underlying library offers no cancellation hook for it.
func (tool *MediaTool) ProbeDurationSecs(_ context.Context, path string) (int, error) {
	metadata, err := tool.Probe(path)
	if err != nil {
		return 0, err
	}

	rawDuration := metadata.GetFormat().GetDuration()
	duration, err := strconv.ParseFloat(rawDuration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported malformed duration %q: %w", rawDuration, err)
	}

	return int(duration + 0.5), nil
}

// GenerateThumbnail extracts a single frame from the source media at the
// provided timestamp (in seconds) and writes it to outputPath. The output
// directory is created if missing.
func (tool *MediaTool) GenerateThumbnail(ctx context.Context, sourcePath string, outputPath string, atSeconds int) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModeDir|os.ModePerm); err != nil {
		return fmt.Errorf("failed to create thumbnail output directory: %w", err)
	}

	trans := ffmpeg.New(&ffmpeg.Config{
		FfmpegBinPath:  tool.config.FfmpegBinPath,
		FfprobeBinPath: tool.config.FfprobeBinPath,
	}).
		Input(sourcePath).
		Output(outputPath).
		WithContext(&ctx)

	seekTime := strconv.Itoa(atSeconds)
	frames := 1
	resolution := ThumbnailResolution
	progress, err := trans.Start(ffmpeg.Options{
		SeekTime:   &seekTime,
		Vframes:    &frames,
		Resolution: &resolution,
	})
	if err != nil {
		return fmt.Errorf("failed to start ffmpeg thumbnail extraction: %w", err)
	}

	// Drain the progress channel; single frame extraction is fast enough
	// that the intermediate updates are only useful at debug level.
	for prog := range progress {
		log.Emit(logger.VERBOSE, "Thumbnail extraction progress for %s: %v\n", sourcePath, prog)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("ffmpeg finished but thumbnail %s is missing: %w", outputPath, err)
	}

	return nil
}
