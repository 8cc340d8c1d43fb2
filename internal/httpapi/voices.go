package httpapi

import (
	"net/http"
	"os"
	"sort"
	"strings"
)

type listVoicesResponse struct {
	DefaultVoice     string   `json:"defaultVoice"`
	DefaultStyle     string   `json:"defaultStyle"`
	DefaultSpeakerID int      `json:"defaultSpeakerId"`
	Voices           []string `json:"voices"`
}

// handleListVoices reports the synthesis voices installed on disk. Each Piper
// voice ships as a pair of files; the .onnx.json config is the marker.
func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices := []string{}
	entries, err := os.ReadDir(s.cfg.PiperModelsDir)
	if err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".onnx.json") {
				continue
			}
			voices = append(voices, strings.TrimSuffix(name, ".onnx.json"))
		}
		sort.Strings(voices)
	}

	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoice:     s.cfg.PiperVoice,
		DefaultStyle:     s.cfg.PiperStyle,
		DefaultSpeakerID: s.cfg.PiperSpeakerID,
		Voices:           voices,
	})
}
