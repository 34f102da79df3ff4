// Package compose renders the final video: a slideshow of page images, each
// shown for its planned time, muxed with the narration track.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/command"
	"github.com/dustin/go-humanize"
)

// Defaults for the rendered video.
const (
	DefaultWidth        = 1920
	DefaultHeight       = 1080
	DefaultFPS          = 25
	DefaultAudioBitrate = "192k"
)

var (
	// ErrNoImages indicates a request without page images.
	ErrNoImages = errors.New("no images to compose")
	// ErrPlanMismatch indicates a display plan that does not match the images.
	ErrPlanMismatch = errors.New("display plan does not match images")
	// ErrMissingAudio indicates a request without a narration track.
	ErrMissingAudio = errors.New("narration track is required")
)

// Request is one composition job.
type Request struct {
	Images     []string
	Display    []time.Duration
	AudioPath  string
	OutputPath string
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if len(r.Images) == 0 {
		return ErrNoImages
	}

	if len(r.Display) != len(r.Images) {
		return fmt.Errorf("%w: %d images, %d durations", ErrPlanMismatch, len(r.Images), len(r.Display))
	}

	for index, display := range r.Display {
		if display < 0 {
			return fmt.Errorf("%w: image %d has negative duration %v", ErrPlanMismatch, index+1, display)
		}
	}

	if r.AudioPath == "" {
		return ErrMissingAudio
	}

	return nil
}

// Composer produces the final video file.
type Composer interface {
	Compose(ctx context.Context, request Request) error
}

// Settings controls the rendered output.
type Settings struct {
	Binary       string
	Width        int
	Height       int
	FPS          int
	AudioBitrate string
}

func (s Settings) withDefaults() Settings {
	if s.Binary == "" {
		s.Binary = "ffmpeg"
	}

	if s.Width <= 0 {
		s.Width = DefaultWidth
	}

	if s.Height <= 0 {
		s.Height = DefaultHeight
	}

	if s.FPS <= 0 {
		s.FPS = DefaultFPS
	}

	if s.AudioBitrate == "" {
		s.AudioBitrate = DefaultAudioBitrate
	}

	return s
}

// FFmpeg composes with the concat demuxer and a second mux pass.
type FFmpeg struct {
	settings Settings
	runner   command.Runner
	log      *logger.Logger
}

// NewFFmpeg returns a composer.
func NewFFmpeg(settings Settings, runner command.Runner, log *logger.Logger) *FFmpeg {
	if runner == nil {
		runner = command.ExecRunner{}
	}

	return &FFmpeg{settings: settings.withDefaults(), runner: runner, log: log}
}

// Compose renders the slideshow and muxes the narration into OutputPath.
func (f *FFmpeg) Compose(ctx context.Context, request Request) error {
	validationErr := request.Validate()
	if validationErr != nil {
		return validationErr
	}

	workDir := filepath.Dir(request.OutputPath)
	listPath := filepath.Join(workDir, "concat_list.txt")
	slideshowPath := filepath.Join(workDir, "slideshow.mp4")

	defer func() {
		for _, temp := range []string{listPath, slideshowPath} {
			removeErr := os.Remove(temp)
			if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				f.log.Warn("Failed to remove temp file '%s': %v", temp, removeErr)
			}
		}
	}()

	list, err := ConcatList(request.Images, request.Display)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(listPath, []byte(list), 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write concat list: %w", writeErr)
	}

	_, slideshowErr := f.runner.Run(ctx, f.settings.Binary, f.slideshowArgs(listPath, slideshowPath)...)
	if slideshowErr != nil {
		return fmt.Errorf("failed to render slideshow: %w", slideshowErr)
	}

	_, muxErr := f.runner.Run(ctx, f.settings.Binary, f.muxArgs(slideshowPath, request.AudioPath, request.OutputPath)...)
	if muxErr != nil {
		return fmt.Errorf("failed to mux narration: %w", muxErr)
	}

	info, statErr := os.Stat(request.OutputPath)
	if statErr != nil {
		return fmt.Errorf("composed video missing: %w", statErr)
	}

	f.log.Info("Composed %d image(s) into %s (%s)",
		len(request.Images), request.OutputPath, humanize.Bytes(uint64(info.Size())))

	return nil
}

func (f *FFmpeg) slideshowArgs(listPath, slideshowPath string) []string {
	width, height := f.settings.Width, f.settings.Height
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height)

	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", filter,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(f.settings.FPS),
		"-y", slideshowPath,
	}
}

func (f *FFmpeg) muxArgs(slideshowPath, audioPath, outputPath string) []string {
	return []string{
		"-i", slideshowPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", f.settings.AudioBitrate,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		"-y", outputPath,
	}
}

// ConcatList renders an ffmpeg concat-demuxer script. The last image is
// listed twice because the demuxer ignores the final duration directive.
func ConcatList(images []string, display []time.Duration) (string, error) {
	if len(images) == 0 {
		return "", ErrNoImages
	}

	if len(images) != len(display) {
		return "", fmt.Errorf("%w: %d images, %d durations", ErrPlanMismatch, len(images), len(display))
	}

	var builder strings.Builder

	for index, image := range images {
		quoted, err := quotePath(image)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&builder, "file %s\nduration %s\n", quoted,
			strconv.FormatFloat(display[index].Seconds(), 'f', 6, 64))
	}

	last, err := quotePath(images[len(images)-1])
	if err != nil {
		return "", err
	}

	fmt.Fprintf(&builder, "file %s\n", last)

	return builder.String(), nil
}

func quotePath(path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	return "'" + strings.ReplaceAll(absolute, "'", `'\''`) + "'", nil
}
