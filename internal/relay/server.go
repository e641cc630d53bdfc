package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pfp/internal/clock"
)

const (
	DefaultMaxMessageBytes = 256 << 10
	DefaultLongPoll        = 30 * time.Second
	DefaultIdlePurge       = 10 * time.Minute
)

// ServerConfig tunes the relay server. Zero fields take the defaults.
type ServerConfig struct {
	MaxMessageBytes int
	LongPoll        time.Duration
	IdlePurge       time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.LongPoll <= 0 {
		c.LongPoll = DefaultLongPoll
	}
	if c.IdlePurge <= 0 {
		c.IdlePurge = DefaultIdlePurge
	}
	return c
}

// Server is the in-memory relay.
type Server struct {
	cfg    ServerConfig
	clock  clock.Clock
	logger *slog.Logger
	boxes  *mailboxes
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerClock sets the clock for long-poll timeouts and idle purging.
func WithServerClock(c clock.Clock) ServerOption { return func(s *Server) { s.clock = c } }

// WithServerLogger sets the access and lifecycle logger.
func WithServerLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.logger = l } }

// NewServer builds a relay with empty mailboxes.
func NewServer(cfg ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		clock:  clock.Real(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.boxes = newMailboxes(s.clock)
	return s
}

// Handler returns the relay's HTTP surface wrapped in CORS and access
// logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/receive", s.handleReceive)
	return s.accessLog(cors(mux))
}

// RunPurger drops all mailboxes after IdlePurge without traffic. It
// returns when ctx is done.
func (s *Server) RunPurger(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.IdlePurge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.boxes.purgeIfIdle(s.cfg.IdlePurge) {
				s.logger.Info("relay idle; purged all mailboxes")
			}
		}
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	receiver := r.URL.Query().Get("receiver")
	if receiver == "" {
		http.Error(w, "missing receiver", http.StatusBadRequest)
		return
	}

	var message string
	switch r.Method {
	case http.MethodGet:
		if !r.URL.Query().Has("message") {
			http.Error(w, "missing message", http.StatusBadRequest)
			return
		}
		message = r.URL.Query().Get("message")
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxMessageBytes)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		message = string(body)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(message) > s.cfg.MaxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	s.boxes.put(receiver, message)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	receiver := r.URL.Query().Get("receiver")
	if receiver == "" {
		http.Error(w, "missing receiver", http.StatusBadRequest)
		return
	}

	message := s.boxes.take(r.Context(), receiver, s.cfg.LongPoll)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(message)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// accessLog records method, path, remote, status, bytes and duration. The
// query string carries tokens and ciphertext and is never logged.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		)
	})
}
