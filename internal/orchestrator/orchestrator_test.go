package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lumavoice/luma/internal/audio"
	"github.com/lumavoice/luma/internal/brain"
	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/speech"
)

type fakeResponder struct {
	reply brain.Reply
	err   error
	calls int
	got   string
}

func (f *fakeResponder) Respond(_ context.Context, _, _ string, userText string) (brain.Reply, error) {
	f.calls++
	f.got = userText
	return f.reply, f.err
}

type fakeSynth struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string, _ speech.VoiceParams) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

type fakeTranscoder struct {
	err   error
	calls int
}

func (f *fakeTranscoder) ToWAV(_ context.Context, _, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return audio.WriteWAVPCM16LEFile(outputPath, make([]byte, 3200), 16000)
}

func okReply() brain.Reply {
	return brain.Reply{Text: "hello!", FacialExpression: "smile", Animation: "Talking_0"}
}

func newTestOrchestrator(r Responder, s Synthesizer, t Transcriber, tc Transcoder) (*Orchestrator, *events.Broadcaster) {
	b := events.NewBroadcaster()
	o := New(r, s, t, tc, b, nil, nil, Config{})
	return o, b
}

func collectStages(ch <-chan events.Event) []events.Stage {
	var stages []events.Stage
	for {
		select {
		case ev := <-ch:
			stages = append(stages, ev.Stage)
		default:
			return stages
		}
	}
}

func TestChatHappyPath(t *testing.T) {
	responder := &fakeResponder{reply: okReply()}
	synth := &fakeSynth{audio: []byte("wav-bytes")}
	o, b := newTestOrchestrator(responder, synth, nil, nil)

	ch, cancel := b.Subscribe("", 64)
	defer cancel()

	res, err := o.Chat(context.Background(), "r1", "s1", "hi", speech.VoiceParams{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Reply.Text != "hello!" || string(res.AudioWAV) != "wav-bytes" || res.TTSError != "" {
		t.Fatalf("result = %+v", res)
	}
	if responder.got != "hi" {
		t.Fatalf("responder saw %q", responder.got)
	}

	want := []events.Stage{
		events.StageReceived,
		events.StageThinking,
		events.StageModelDone,
		events.StageSynthesizing,
		events.StageDone,
	}
	got := collectStages(ch)
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestChatExhaustedSkipsSynthesis(t *testing.T) {
	responder := &fakeResponder{reply: brain.Reply{
		Text: "resting", FacialExpression: "sad", Animation: "Idle", Exhausted: true,
	}}
	synth := &fakeSynth{audio: []byte("unused")}
	o, _ := newTestOrchestrator(responder, synth, nil, nil)

	res, err := o.Chat(context.Background(), "r1", "s1", "hi", speech.VoiceParams{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if synth.calls != 0 {
		t.Fatalf("synthesis ran %d times for an exhausted reply", synth.calls)
	}
	if res.AudioWAV != nil || !res.Reply.Exhausted {
		t.Fatalf("result = %+v", res)
	}
}

func TestChatSynthesisFailureIsNotFatal(t *testing.T) {
	responder := &fakeResponder{reply: okReply()}
	synth := &fakeSynth{err: errors.New("piper fell over")}
	o, _ := newTestOrchestrator(responder, synth, nil, nil)

	res, err := o.Chat(context.Background(), "r1", "s1", "hi", speech.VoiceParams{})
	if err != nil {
		t.Fatalf("Chat() error = %v, synthesis failure must not fail the request", err)
	}
	if res.AudioWAV != nil {
		t.Fatalf("audio should be nil on synthesis failure")
	}
	if !strings.Contains(res.TTSError, "piper fell over") {
		t.Fatalf("ttsError = %q", res.TTSError)
	}
	if res.Reply.Text != "hello!" {
		t.Fatalf("reply text lost: %+v", res)
	}
}

func TestChatResponderFailureIsFatal(t *testing.T) {
	responder := &fakeResponder{err: errors.New("all models down")}
	o, _ := newTestOrchestrator(responder, &fakeSynth{}, nil, nil)

	_, err := o.Chat(context.Background(), "r1", "s1", "hi", speech.VoiceParams{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestTalkHappyPath(t *testing.T) {
	responder := &fakeResponder{reply: okReply()}
	synth := &fakeSynth{audio: []byte("wav")}
	stt := &fakeTranscriber{text: "what time is it"}
	tc := &fakeTranscoder{}
	o, _ := newTestOrchestrator(responder, synth, stt, tc)

	res, err := o.Talk(context.Background(), "r1", "s1", "/tmp/recording.webm", speech.VoiceParams{})
	if err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	if tc.calls != 1 {
		t.Fatalf("transcoder calls = %d", tc.calls)
	}
	if res.UserText != "what time is it" {
		t.Fatalf("userText = %q", res.UserText)
	}
	if responder.got != "what time is it" {
		t.Fatalf("responder saw %q", responder.got)
	}
}

func TestTalkTranscodeFailureIsFatal(t *testing.T) {
	responder := &fakeResponder{reply: okReply()}
	tc := &fakeTranscoder{err: errors.New("ffmpeg failed: bad container")}
	o, _ := newTestOrchestrator(responder, &fakeSynth{}, &fakeTranscriber{text: "hi"}, tc)

	_, err := o.Talk(context.Background(), "r1", "s1", "/tmp/recording.webm", speech.VoiceParams{})
	if err == nil || !strings.Contains(err.Error(), "transcode") {
		t.Fatalf("error = %v", err)
	}
	if responder.calls != 0 {
		t.Fatalf("responder must not run after transcode failure")
	}
}

type badRateTranscoder struct{}

func (badRateTranscoder) ToWAV(_ context.Context, _, outputPath string) error {
	return audio.WriteWAVPCM16LEFile(outputPath, make([]byte, 3200), 44100)
}

func TestTalkRejectsWrongSampleRate(t *testing.T) {
	responder := &fakeResponder{reply: okReply()}
	o, _ := newTestOrchestrator(responder, &fakeSynth{}, &fakeTranscriber{text: "hi"}, badRateTranscoder{})

	_, err := o.Talk(context.Background(), "r1", "s1", "/tmp/recording.webm", speech.VoiceParams{})
	if err == nil || !strings.Contains(err.Error(), "16000") {
		t.Fatalf("error = %v", err)
	}
	if responder.calls != 0 {
		t.Fatalf("responder must not run for malformed audio")
	}
}

func TestTalkUnusableTranscriptNeverReachesResponder(t *testing.T) {
	cases := []string{"", "Could not understand audio", "STT error: Audio must be WAV mono PCM 16-bit."}
	for _, transcript := range cases {
		responder := &fakeResponder{reply: okReply()}
		o, _ := newTestOrchestrator(responder, &fakeSynth{}, &fakeTranscriber{text: transcript}, &fakeTranscoder{})

		_, err := o.Talk(context.Background(), "r1", "s1", "/tmp/recording.webm", speech.VoiceParams{})
		if !errors.Is(err, ErrNoSpeech) {
			t.Fatalf("transcript %q: error = %v, want ErrNoSpeech", transcript, err)
		}
		if responder.calls != 0 {
			t.Fatalf("transcript %q reached the responder", transcript)
		}
	}
}
