package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"gifconverter/config"
	"gifconverter/models"
)

// FFmpegService probes media with ffprobe and renders GIFs with ffmpeg.
type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	gifHeight   int
	gifFPS      int
}

func NewFFmpegService(cfg *config.Config) *FFmpegService {
	return &FFmpegService{
		ffmpegPath:  cfg.FFMPEGPath,
		ffprobePath: cfg.FFProbePath,
		gifHeight:   cfg.GIFHeight,
		gifFPS:      cfg.GIFFPS,
	}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     *int   `json:"width"`
		Height    *int   `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpegService) Probe(ctx context.Context, input string) (models.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return models.MediaInfo{}, fmt.Errorf("ffprobe: %w - %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeOutput(output)
}

func parseProbeOutput(data []byte) (models.MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return models.MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info models.MediaInfo
	if d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64); err == nil && !math.IsNaN(d) {
		info.Duration = &d
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.HasVideo = true
		info.Width = s.Width
		info.Height = s.Height
		break
	}
	return info, nil
}

// GIFArgs builds the ffmpeg arguments: fixed height, width following the
// aspect ratio (kept even), resampled to the configured frame rate.
func (f *FFmpegService) GIFArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-vf", fmt.Sprintf("fps=%d,scale=-2:%d", f.gifFPS, f.gifHeight),
		"-progress", "pipe:1",
		"-nostats",
		output,
	}
}

// Transcode renders input as a GIF at output. duration, when positive, turns
// ffmpeg's progress reports into percentages passed to onProgress.
func (f *FFmpegService) Transcode(ctx context.Context, input, output string, duration float64, onProgress func(pct int)) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, f.GIFArgs(input, output)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	last := -1
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		pct, ok := parseProgressLine(scanner.Text(), duration)
		if !ok || pct <= last {
			continue
		}
		last = pct
		if onProgress != nil {
			onProgress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return ffmpegError(err, stderr.String())
	}
	return nil
}

// parseProgressLine reads one key=value line of `-progress` output.
func parseProgressLine(line string, duration float64) (int, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}

	switch key {
	case "out_time_ms", "out_time_us":
		// ffmpeg reports microseconds under both names
		if duration <= 0 {
			return 0, false
		}
		us, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		pct := (us / 1e6) / duration * 100
		return int(math.Min(99, math.Max(0, pct))), true
	case "progress":
		if value == "end" {
			return 100, true
		}
	}
	return 0, false
}

// ffmpegError keeps the last stderr line, which is where ffmpeg states why it
// gave up.
func ffmpegError(err error, stderr string) error {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	msg := strings.TrimSpace(lines[len(lines)-1])
	if len(msg) > 1024 {
		msg = msg[:1024]
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && msg != "" {
		return fmt.Errorf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), msg)
	}
	if msg != "" {
		return fmt.Errorf("ffmpeg execution: %w - %s", err, msg)
	}
	return fmt.Errorf("ffmpeg execution: %w", err)
}
