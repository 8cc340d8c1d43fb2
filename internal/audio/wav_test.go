package audio

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestEncodeAndProbeRoundTrip(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms of 16kHz mono PCM16
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}

	format, err := ProbeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("ProbeWAV() error = %v", err)
	}
	if format.Channels != 1 || format.SampleRate != 16000 || format.BitsPerSample != 16 {
		t.Fatalf("unexpected format: %+v", format)
	}
}

func TestProbeWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := WriteWAVPCM16LEFile(path, make([]byte, 640), 8000); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}

	format, err := ProbeWAVFile(path)
	if err != nil {
		t.Fatalf("ProbeWAVFile() error = %v", err)
	}
	if format.SampleRate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", format.SampleRate)
	}
}

func TestProbeRejectsNonWAV(t *testing.T) {
	if _, err := ProbeWAV(bytes.NewReader([]byte("definitely not audio data"))); err == nil {
		t.Fatalf("expected error for non-WAV input")
	}
}
