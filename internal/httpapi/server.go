package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumavoice/luma/internal/brain"
	"github.com/lumavoice/luma/internal/config"
	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/history"
	"github.com/lumavoice/luma/internal/observability"
	"github.com/lumavoice/luma/internal/orchestrator"
	"github.com/lumavoice/luma/internal/speech"
)

const defaultSessionID = "default"

type Orchestrator interface {
	Chat(ctx context.Context, requestID, sessionID, text string, voice speech.VoiceParams) (orchestrator.Result, error)
	Talk(ctx context.Context, requestID, sessionID, recordingPath string, voice speech.VoiceParams) (orchestrator.Result, error)
}

type Deps struct {
	Orchestrator Orchestrator
	History      history.Store
	Broadcast    *events.Broadcaster
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	WorkerAlive  func() bool
	HistoryMode  string
}

type Server struct {
	cfg       config.Config
	orch      Orchestrator
	store     history.Store
	broadcast *events.Broadcaster
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	workerAlive func() bool
	historyMode string
	keepAlive   time.Duration
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		orch:        deps.Orchestrator,
		store:       deps.History,
		broadcast:   deps.Broadcast,
		metrics:     deps.Metrics,
		logger:      logger,
		workerAlive: deps.WorkerAlive,
		historyMode: deps.HistoryMode,
		keepAlive:   15 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/talk", s.handleTalk)
	r.Get("/api/voices", s.handleListVoices)
	r.Post("/api/clear-history", s.handleClearHistory)
	r.Get("/api/logs", s.handleLogStream)
	r.Get("/api/ws/logs", s.handleLogSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	workerUp := s.workerAlive == nil || s.workerAlive()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"speechWorker": workerUp,
		"historyMode":  s.historyMode,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Voice     string `json:"voice"`
	Style     string `json:"style"`
	SpeakerID int    `json:"speakerId"`
}

type chatResponse struct {
	SessionID        string  `json:"sessionId"`
	RequestID        string  `json:"requestId"`
	UserText         string  `json:"userText,omitempty"`
	Text             string  `json:"text"`
	FacialExpression string  `json:"facialExpression"`
	Animation        string  `json:"animation"`
	Audio            *string `json:"audio"`
	Voice            string  `json:"voice"`
	Style            string  `json:"style"`
	SpeakerID        int     `json:"speakerId,omitempty"`
	Exhausted        bool    `json:"exhausted,omitempty"`
	TTSError         string  `json:"ttsError,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	sessionID := sessionOrDefault(req.SessionID)
	requestID := uuid.NewString()
	voice := s.voiceParams(req.Voice, req.Style, req.SpeakerID)

	res, err := s.orch.Chat(r.Context(), requestID, sessionID, req.Message, voice)
	if err != nil {
		s.respondPipelineError(w, requestID, err)
		return
	}
	respondJSON(w, http.StatusOK, s.exchangeResponse(requestID, sessionID, voice, res))
}

func (s *Server) handleTalk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(25 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form upload")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio file is required")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".bin"
	}
	uploadPath := filepath.Join(s.uploadDir(), "upload-"+uuid.NewString()+ext)
	dst, err := os.Create(uploadPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not persist upload")
		return
	}
	defer os.Remove(uploadPath)
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		respondError(w, http.StatusInternalServerError, "internal_error", "could not persist upload")
		return
	}
	dst.Close()

	sessionID := sessionOrDefault(r.FormValue("sessionId"))
	requestID := uuid.NewString()
	speakerID, _ := strconv.Atoi(r.FormValue("speakerId"))
	voice := s.voiceParams(r.FormValue("voice"), r.FormValue("style"), speakerID)

	res, err := s.orch.Talk(r.Context(), requestID, sessionID, uploadPath, voice)
	if err != nil {
		s.respondPipelineError(w, requestID, err)
		return
	}
	respondJSON(w, http.StatusOK, s.exchangeResponse(requestID, sessionID, voice, res))
}

type clearHistoryRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	var req clearHistoryRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sessionID := sessionOrDefault(req.SessionID)
	if err := s.store.Clear(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "history cleared for session " + sessionID,
	})
}

func (s *Server) exchangeResponse(requestID, sessionID string, voice speech.VoiceParams, res orchestrator.Result) chatResponse {
	out := chatResponse{
		SessionID:        sessionID,
		RequestID:        requestID,
		UserText:         res.UserText,
		Text:             res.Reply.Text,
		FacialExpression: res.Reply.FacialExpression,
		Animation:        res.Reply.Animation,
		Voice:            voice.Voice,
		Style:            voice.Style,
		SpeakerID:        voice.SpeakerID,
		Exhausted:        res.Reply.Exhausted,
		TTSError:         res.TTSError,
	}
	if len(res.AudioWAV) > 0 {
		dataURL := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(res.AudioWAV)
		out.Audio = &dataURL
	}
	return out
}

func (s *Server) respondPipelineError(w http.ResponseWriter, requestID string, err error) {
	var allFailed *brain.ErrAllCandidatesFailed
	switch {
	case errors.Is(err, orchestrator.ErrNoSpeech):
		respondError(w, http.StatusBadRequest, "unusable_audio", err.Error())
	case errors.As(err, &allFailed):
		respondError(w, http.StatusBadGateway, "model_unavailable", err.Error())
	default:
		s.logger.Error("request failed", zap.String("request_id", requestID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) voiceParams(voice, style string, speakerID int) speech.VoiceParams {
	p := speech.VoiceParams{
		Voice:     strings.TrimSpace(voice),
		Style:     strings.TrimSpace(style),
		SpeakerID: speakerID,
	}
	if p.Voice == "" {
		p.Voice = s.cfg.PiperVoice
	}
	if p.Style == "" {
		p.Style = s.cfg.PiperStyle
	}
	if p.SpeakerID <= 0 {
		p.SpeakerID = s.cfg.PiperSpeakerID
	}
	return p
}

func (s *Server) uploadDir() string {
	if strings.TrimSpace(s.cfg.SpeechWorkDir) != "" {
		return s.cfg.SpeechWorkDir
	}
	return os.TempDir()
}

func sessionOrDefault(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return defaultSessionID
	}
	return id
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
