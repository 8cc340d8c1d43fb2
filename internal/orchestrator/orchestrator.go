package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumavoice/luma/internal/audio"
	"github.com/lumavoice/luma/internal/brain"
	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/observability"
	"github.com/lumavoice/luma/internal/speech"
)

// ErrNoSpeech marks a voice request whose recording contained nothing the
// recognizer could use. It is the caller's mistake, not a pipeline failure.
var ErrNoSpeech = errors.New("no usable speech recognized")

type Responder interface {
	Respond(ctx context.Context, requestID, sessionID, userText string) (brain.Reply, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params speech.VoiceParams) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Result is one completed exchange. AudioWAV is nil when synthesis was
// skipped or failed; TTSError carries the non-fatal synthesis failure so the
// client can show text without audio.
type Result struct {
	Reply    brain.Reply
	UserText string
	AudioWAV []byte
	TTSError string
}

type Config struct {
	WorkDir string
}

// Orchestrator drives one request through the stage pipeline, publishing a
// stage event at each transition so connected clients can render progress.
type Orchestrator struct {
	responder  Responder
	synth      Synthesizer
	stt        Transcriber
	transcoder Transcoder
	broadcast  *events.Broadcaster
	metrics    *observability.Metrics
	logger     *zap.Logger
	workDir    string
}

func New(responder Responder, synth Synthesizer, stt Transcriber, transcoder Transcoder, broadcast *events.Broadcaster, metrics *observability.Metrics, logger *zap.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	workDir := cfg.WorkDir
	if strings.TrimSpace(workDir) == "" {
		workDir = os.TempDir()
	}
	return &Orchestrator{
		responder:  responder,
		synth:      synth,
		stt:        stt,
		transcoder: transcoder,
		broadcast:  broadcast,
		metrics:    metrics,
		logger:     logger,
		workDir:    workDir,
	}
}

// Chat runs the text path: think, then speak.
func (o *Orchestrator) Chat(ctx context.Context, requestID, sessionID, text string, voice speech.VoiceParams) (Result, error) {
	o.broadcast.Info(requestID, sessionID, events.StageReceived, "chat request received", nil)
	res, err := o.respondAndSpeak(ctx, requestID, sessionID, text, voice)
	o.countRequest("chat", err)
	return res, err
}

// Talk runs the voice path: transcode, transcribe, then the text path.
// Transcode and transcribe failures are fatal; an unusable transcript is
// reported as ErrNoSpeech before the responder is ever consulted.
func (o *Orchestrator) Talk(ctx context.Context, requestID, sessionID, recordingPath string, voice speech.VoiceParams) (Result, error) {
	o.broadcast.Info(requestID, sessionID, events.StageReceived, "voice request received", nil)
	res, err := o.talk(ctx, requestID, sessionID, recordingPath, voice)
	o.countRequest("talk", err)
	return res, err
}

func (o *Orchestrator) talk(ctx context.Context, requestID, sessionID, recordingPath string, voice speech.VoiceParams) (Result, error) {
	wavPath := filepath.Join(o.workDir, "stt-"+uuid.NewString()+".wav")
	defer os.Remove(wavPath)

	o.broadcast.Info(requestID, sessionID, events.StageTranscoding, "transcoding recording", nil)
	start := time.Now()
	if err := o.transcoder.ToWAV(ctx, recordingPath, wavPath); err != nil {
		o.broadcast.Error(requestID, sessionID, events.StageTranscoding, err.Error(), nil)
		return Result{}, fmt.Errorf("transcode recording: %w", err)
	}
	format, err := audio.ProbeWAVFile(wavPath)
	if err != nil {
		o.broadcast.Error(requestID, sessionID, events.StageTranscoding, err.Error(), nil)
		return Result{}, fmt.Errorf("transcoded output is not valid WAV: %w", err)
	}
	if format.Channels != 1 || format.SampleRate != 16000 {
		err := fmt.Errorf("transcoded output is %d-channel %d Hz, want mono 16000 Hz", format.Channels, format.SampleRate)
		o.broadcast.Error(requestID, sessionID, events.StageTranscoding, err.Error(), nil)
		return Result{}, err
	}
	o.observeStage(events.StageTranscoding, start)

	o.broadcast.Info(requestID, sessionID, events.StageTranscribing, "transcribing audio", nil)
	start = time.Now()
	transcript, err := o.stt.Transcribe(ctx, wavPath)
	if err != nil {
		o.broadcast.Error(requestID, sessionID, events.StageTranscribing, err.Error(), nil)
		return Result{}, fmt.Errorf("transcribe recording: %w", err)
	}
	o.observeStage(events.StageTranscribing, start)

	if !speech.IsUsableTranscript(transcript) {
		if o.metrics != nil {
			o.metrics.UnusableSpeech.Inc()
		}
		o.broadcast.Error(requestID, sessionID, events.StageTranscribing, "no usable speech in recording", map[string]any{"transcript": transcript})
		return Result{}, fmt.Errorf("%w (transcript %q)", ErrNoSpeech, transcript)
	}
	o.broadcast.Info(requestID, sessionID, events.StageTranscribing, "transcript ready", map[string]any{"transcript": transcript})

	res, err := o.respondAndSpeak(ctx, requestID, sessionID, transcript, voice)
	res.UserText = transcript
	return res, err
}

func (o *Orchestrator) respondAndSpeak(ctx context.Context, requestID, sessionID, userText string, voice speech.VoiceParams) (Result, error) {
	o.broadcast.Info(requestID, sessionID, events.StageThinking, "generating reply", nil)
	start := time.Now()
	reply, err := o.responder.Respond(ctx, requestID, sessionID, userText)
	if err != nil {
		o.broadcast.Error(requestID, sessionID, events.StageError, err.Error(), nil)
		return Result{}, err
	}
	o.observeStage(events.StageThinking, start)
	o.broadcast.Info(requestID, sessionID, events.StageModelDone, "reply ready", map[string]any{"exhausted": reply.Exhausted})

	res := Result{Reply: reply}
	if reply.Exhausted {
		// The canned apology is not worth a synthesis round-trip.
		o.broadcast.Info(requestID, sessionID, events.StageDone, "request complete", nil)
		return res, nil
	}

	o.broadcast.Info(requestID, sessionID, events.StageSynthesizing, "synthesizing speech", nil)
	start = time.Now()
	audio, synthErr := o.synth.Synthesize(ctx, reply.Text, voice)
	if synthErr != nil {
		// Text still reaches the client; the avatar just stays silent.
		o.logger.Warn("speech synthesis failed, returning text only",
			zap.String("request_id", requestID),
			zap.Error(synthErr),
		)
		o.broadcast.Error(requestID, sessionID, events.StageSynthesizing, synthErr.Error(), nil)
		res.TTSError = synthErr.Error()
	} else {
		o.observeStage(events.StageSynthesizing, start)
		res.AudioWAV = audio
	}

	o.broadcast.Info(requestID, sessionID, events.StageDone, "request complete", nil)
	return res, nil
}

func (o *Orchestrator) observeStage(stage events.Stage, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(string(stage), time.Since(start))
	}
}

func (o *Orchestrator) countRequest(kind string, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNoSpeech):
		outcome = "no_speech"
	case err != nil:
		outcome = "error"
	}
	o.metrics.RequestsTotal.WithLabelValues(kind, outcome).Inc()
}
