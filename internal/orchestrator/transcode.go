package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Transcoder converts whatever container the client recorded (webm, ogg,
// mp4) into the mono 16 kHz PCM WAV the recognizer requires.
type Transcoder interface {
	ToWAV(ctx context.Context, inputPath, outputPath string) error
}

type FFmpegTranscoder struct {
	binPath string
	timeout time.Duration
	logger  *zap.Logger
}

func NewFFmpegTranscoder(binPath string, timeout time.Duration, logger *zap.Logger) *FFmpegTranscoder {
	if strings.TrimSpace(binPath) == "" {
		binPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegTranscoder{binPath: binPath, timeout: timeout, logger: logger}
}

func (t *FFmpegTranscoder) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.binPath,
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out after %s", t.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg failed: %s", detail)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("ffmpeg succeeded but wrote no output at %s", outputPath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg wrote an empty file at %s", outputPath)
	}
	t.logger.Debug("transcoded audio",
		zap.String("input", inputPath),
		zap.Int64("output_bytes", info.Size()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
