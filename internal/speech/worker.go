package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request is one line of the worker protocol: a JSON object written to the
// worker's stdin, answered by a Response carrying the same id.
type Request struct {
	ID         string `json:"id"`
	Cmd        string `json:"cmd"`
	Text       string `json:"text,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Style      string `json:"style,omitempty"`
	SpeakerID  int    `json:"speaker_id,omitempty"`
	AudioPath  string `json:"audio_path,omitempty"`
}

type Response struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Requester is the transport under the Pipeline: either the long-lived
// Manager or the degraded per-call OneShot runner.
type Requester interface {
	Do(ctx context.Context, req Request) (Response, error)
}

const (
	CmdWarmup = "warmup"
	CmdTTS    = "tts"
	CmdSTT    = "stt"
)

type ManagerConfig struct {
	// Command is the full argv that launches the worker in serve mode,
	// e.g. ["python3", "-u", "speech_worker.py", "serve"].
	Command        []string
	RequestTimeout time.Duration
	WarmupTimeout  time.Duration
	Logger         *zap.Logger
	// OnRestart fires every time a dead worker is replaced.
	OnRestart func()
}

// Manager owns the long-lived speech worker subprocess. Requests are written
// as JSON lines and correlated to responses by id, so slow synthesis never
// blocks an unrelated transcription. A request that times out is abandoned
// without killing the worker; a worker that exits fails every in-flight
// request at once and is relaunched lazily on the next call.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *tailBuffer
	pending    map[string]chan Response
	generation int
	closed     bool
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("speech worker command is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		pending: make(map[string]chan Response),
	}, nil
}

// Do sends one request and waits for its correlated response. Safe for
// concurrent use; in-flight requests from different callers interleave on the
// same worker.
func (m *Manager) Do(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}

	timeout := m.cfg.RequestTimeout
	if req.Cmd == CmdWarmup {
		timeout = m.cfg.WarmupTimeout
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Response{}, fmt.Errorf("speech worker manager closed")
	}
	if err := m.ensureWorkerLocked(); err != nil {
		m.mu.Unlock()
		return Response{}, err
	}
	ch := make(chan Response, 1)
	m.pending[req.ID] = ch
	stdin := m.stdin
	m.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		m.forget(req.ID)
		return Response{}, fmt.Errorf("marshal worker request: %w", err)
	}
	line = append(line, '\n')
	if _, err := stdin.Write(line); err != nil {
		m.forget(req.ID)
		return Response{}, fmt.Errorf("write to speech worker: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("speech worker exited before replying")
		}
		return resp, nil
	case <-timer.C:
		m.forget(req.ID)
		return Response{}, fmt.Errorf("speech worker request %s timed out after %s", req.Cmd, timeout)
	case <-ctx.Done():
		m.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

// Warmup asks the worker to load its models so the first real request does
// not pay the cost.
func (m *Manager) Warmup(ctx context.Context) error {
	resp, err := m.Do(ctx, Request{Cmd: CmdWarmup})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("speech worker warmup: %s", workerError(resp))
	}
	return nil
}

// Alive reports whether a worker process is currently running.
func (m *Manager) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cmd := m.cmd
	stdin := m.stdin
	m.cmd = nil
	m.stdin = nil
	m.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

// ensureWorkerLocked starts the worker if none is running. m.mu must be held.
func (m *Manager) ensureWorkerLocked() error {
	if m.cmd != nil {
		return nil
	}

	cmd := exec.Command(m.cfg.Command[0], m.cfg.Command[1:]...)
	tail := newTailBuffer(16 << 10)
	cmd.Stderr = &stderrLogger{tail: tail, logger: m.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("speech worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("speech worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start speech worker: %w", err)
	}

	m.generation++
	gen := m.generation
	m.cmd = cmd
	m.stdin = stdin
	m.stderr = tail
	if gen > 1 && m.cfg.OnRestart != nil {
		m.cfg.OnRestart()
	}
	m.logger.Info("speech worker started", zap.Int("pid", cmd.Process.Pid), zap.Int("generation", gen))

	go m.readLoop(gen, cmd, stdout)
	return nil
}

// readLoop drains the worker's stdout, routing each JSON line to the waiter
// registered under its id. When the pipe closes the loop fails everything
// that was still pending and clears the process so the next Do restarts it.
func (m *Manager) readLoop(gen int, cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			m.logger.Warn("speech worker emitted non-JSON line", zap.String("line", raw))
			continue
		}

		m.mu.Lock()
		ch, ok := m.pending[resp.ID]
		if ok {
			delete(m.pending, resp.ID)
		}
		m.mu.Unlock()

		if !ok {
			// Late reply to a request that already timed out.
			m.logger.Warn("speech worker reply for unknown id", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}

	_ = cmd.Wait()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	orphans := m.pending
	m.pending = make(map[string]chan Response)
	m.cmd = nil
	m.stdin = nil
	tail := m.stderr
	m.stderr = nil
	closed := m.closed
	m.mu.Unlock()

	for _, ch := range orphans {
		close(ch)
	}
	if !closed {
		detail := ""
		if tail != nil {
			detail = tail.String()
		}
		m.logger.Error("speech worker exited",
			zap.Int("generation", gen),
			zap.Int("orphaned_requests", len(orphans)),
			zap.String("stderr_tail", detail),
		)
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func workerError(resp Response) string {
	msg := strings.TrimSpace(resp.Error)
	if msg == "" {
		msg = "unknown worker error"
	}
	return msg
}

// tailBuffer keeps the last max bytes written to it, so a crashed worker's
// stderr can be attached to the error without unbounded growth.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// stderrLogger tees worker diagnostics into the log and the crash tail.
// Worker stderr is never parsed as protocol.
type stderrLogger struct {
	tail   *tailBuffer
	logger *zap.Logger

	mu      sync.Mutex
	partial []byte
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	_, _ = s.tail.Write(p)

	s.mu.Lock()
	s.partial = append(s.partial, p...)
	for {
		idx := bytes.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(s.partial[:idx]))
		s.partial = s.partial[idx+1:]
		if line != "" {
			s.logger.Debug("speech worker stderr", zap.String("line", line))
		}
	}
	if len(s.partial) > 8<<10 {
		s.partial = s.partial[len(s.partial)-(8<<10):]
	}
	s.mu.Unlock()
	return len(p), nil
}
