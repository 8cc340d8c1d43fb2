package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OneShot runs the worker script once per request instead of keeping it
// resident. Every call pays full model load, so this is the degraded mode for
// memory-constrained hosts.
type OneShot struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOneShot(command []string, timeout time.Duration, logger *zap.Logger) (*OneShot, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("speech worker command is empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OneShot{command: command, timeout: timeout, logger: logger}, nil
}

// Do maps a protocol request onto the worker's one-shot CLI. Transcripts come
// back on stdout; synthesis writes the output file and prints nothing useful.
func (o *OneShot) Do(ctx context.Context, req Request) (Response, error) {
	var args []string
	switch req.Cmd {
	case CmdTTS:
		args = []string{CmdTTS, req.Text, req.OutputPath, req.Voice, req.Style}
		if req.SpeakerID > 0 {
			args = append(args, strconv.Itoa(req.SpeakerID))
		}
	case CmdSTT:
		args = []string{CmdSTT, req.AudioPath}
	case CmdWarmup:
		args = []string{CmdWarmup}
	default:
		return Response{}, fmt.Errorf("unsupported one-shot command %q", req.Cmd)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	argv := append(append([]string{}, o.command...), args...)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	o.logger.Debug("one-shot speech command finished",
		zap.String("cmd", req.Cmd),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("one-shot %s timed out after %s", req.Cmd, o.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return Response{}, fmt.Errorf("one-shot %s failed: %s", req.Cmd, detail)
	}

	return Response{ID: req.ID, OK: true, Text: strings.TrimSpace(stdout.String())}, nil
}
