package speech

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The worker reports an inaudible or silent recording as a successful
// transcription carrying this sentinel, and internal recognizer failures as a
// prefixed message. Neither is usable conversational input.
const (
	noSpeechSentinel = "Could not understand audio"
	sttErrorPrefix   = "STT error:"
)

// VoiceParams selects the synthesis voice. Zero values defer to the worker's
// own defaults (PIPER_VOICE and friends on the worker side).
type VoiceParams struct {
	Voice     string
	Style     string
	SpeakerID int
}

// Pipeline is the synthesis/transcription facade over a Requester. It owns
// the temp-file handshake: synthesized audio lands in a unique file the
// worker writes and the pipeline reads and deletes.
type Pipeline struct {
	req     Requester
	workDir string
	logger  *zap.Logger
}

func NewPipeline(req Requester, workDir string, logger *zap.Logger) *Pipeline {
	if strings.TrimSpace(workDir) == "" {
		workDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{req: req, workDir: workDir, logger: logger}
}

// Synthesize renders text to WAV bytes. The output file is removed whether or
// not synthesis succeeds.
func (p *Pipeline) Synthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty synthesis text")
	}

	outPath := filepath.Join(p.workDir, "tts-"+uuid.NewString()+".wav")
	defer os.Remove(outPath)

	start := time.Now()
	resp, err := p.req.Do(ctx, Request{
		Cmd:        CmdTTS,
		Text:       text,
		OutputPath: outPath,
		Voice:      params.Voice,
		Style:      params.Style,
		SpeakerID:  params.SpeakerID,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("synthesis failed: %s", workerError(resp))
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The worker claimed success but produced nothing.
			return nil, fmt.Errorf("synthesis reported ok but wrote no audio at %s", outPath)
		}
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	p.logger.Debug("synthesized speech",
		zap.Int("text_chars", len(text)),
		zap.Int("audio_bytes", len(audio)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return audio, nil
}

// Transcribe converts a mono 16 kHz PCM WAV file into text. The transcript
// may be the no-speech sentinel or an error-prefixed message; callers gate on
// IsUsableTranscript before treating it as user input.
func (p *Pipeline) Transcribe(ctx context.Context, wavPath string) (string, error) {
	resp, err := p.req.Do(ctx, Request{Cmd: CmdSTT, AudioPath: wavPath})
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("transcription failed: %s", workerError(resp))
	}
	return strings.TrimSpace(resp.Text), nil
}

// Warmup loads the speech models ahead of the first request.
func (p *Pipeline) Warmup(ctx context.Context) error {
	resp, err := p.req.Do(ctx, Request{Cmd: CmdWarmup})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("warmup failed: %s", workerError(resp))
	}
	return nil
}

// IsUsableTranscript reports whether a transcript represents actual user
// speech rather than silence or a recognizer failure.
func IsUsableTranscript(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if text == noSpeechSentinel {
		return false
	}
	return !strings.HasPrefix(text, sttErrorPrefix)
}
