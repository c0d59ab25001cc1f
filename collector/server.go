// Package collector is a development collector: it accepts batches from
// blackbox agents, stores them in SQLite and serves them back.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auditmos/blackbox/instrument"
	"github.com/auditmos/blackbox/logging"
	"github.com/auditmos/blackbox/storage"
)

const DefaultMaxStreams = 4

type ServerConfig struct {
	Addr    string
	Batches storage.BatchRepo
	Tokens  storage.TokenRepo
	// Limits, Rules and Sink are optional.
	Limits     storage.RateLimitRepo
	Rules      storage.RedactRuleRepo
	Sink       storage.BatchSink
	MaxStreams int
	Logger     logging.Logger
}

type Server struct {
	addr     string
	batches  storage.BatchRepo
	tokens   storage.TokenRepo
	limits   storage.RateLimitRepo
	rules    storage.RedactRuleRepo
	sink     storage.BatchSink
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	log      logging.Logger

	mu           sync.RWMutex
	maxBodyBytes int64
	redactor     *logging.Redactor
	streams      map[*websocket.Conn]struct{}
	onReady      func(addr string)

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	maxStreams := cfg.MaxStreams
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}

	limits := storage.RateLimits{
		RequestsPerMin: storage.DefaultRequestsPerMin,
		MaxBatchBytes:  storage.DefaultMaxBatchBytes,
	}
	if cfg.Limits != nil {
		stored, err := cfg.Limits.Get()
		if err != nil {
			return nil, fmt.Errorf("load rate limits: %w", err)
		}
		limits = *stored
	}

	s := &Server{
		addr:         cfg.Addr,
		batches:      cfg.Batches,
		tokens:       cfg.Tokens,
		limits:       cfg.Limits,
		rules:        cfg.Rules,
		sink:         cfg.Sink,
		limiter:      NewRateLimiter(limits.RequestsPerMin, maxStreams),
		maxBodyBytes: limits.MaxBatchBytes,
		log:          logger.With(logging.WithContext(logging.ContextInfo{Module: "collector"})),
		streams:      make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if err := s.ReloadRedactor(); err != nil {
		return nil, err
	}
	return s, nil
}

// ReloadRedactor rebuilds the collector-side redactor from the stored
// rules. Without a rule repository the built-in keys apply.
func (s *Server) ReloadRedactor() error {
	redactor := logging.NewRedactor(logging.RedactMaskSecrets)
	if s.rules != nil {
		r, err := storage.LoadRedactor(s.rules)
		if err != nil {
			return fmt.Errorf("load redact rules: %w", err)
		}
		redactor = r
	}

	s.mu.Lock()
	s.redactor = redactor
	s.mu.Unlock()
	return nil
}

// ReloadLimits re-reads the rate limits from the repository.
func (s *Server) ReloadLimits() error {
	if s.limits == nil {
		return nil
	}
	limits, err := s.limits.Get()
	if err != nil {
		return fmt.Errorf("load rate limits: %w", err)
	}
	s.limiter.SetRequestsPerMin(limits.RequestsPerMin)

	s.mu.Lock()
	s.maxBodyBytes = limits.MaxBatchBytes
	s.mu.Unlock()
	return nil
}

func (s *Server) SetReadyCallback(fn func(addr string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ingest/logs", s.handleIngest)
	mux.HandleFunc("/ingest/ws", s.handleIngestWS)
	mux.HandleFunc("/api/entries", s.handleEntries)
	mux.HandleFunc("/api/redact-rules", s.handleRedactRules)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/analyze/deadlock", s.handleDeadlock)
	return mux
}

func (s *Server) Handler() http.Handler {
	return s.buildMux()
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("collector listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           instrument.Middleware(s.buildMux(), s.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	onReady := s.onReady
	s.mu.Unlock()

	s.log.Info("Collector listening", logging.WithField("addr", ln.Addr().String()))
	if onReady != nil {
		onReady(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeStreams()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("collector serve: %w", err)
	}
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	s.closeStreams()
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) closeStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.streams {
		conn.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRedactRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	patterns := []string{}
	if s.rules != nil {
		rules, err := s.rules.GetAll()
		if err != nil {
			writeJSONError(w, "failed to load rules", http.StatusInternalServerError)
			return
		}
		for _, rule := range rules {
			patterns = append(patterns, rule.Pattern)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"patterns": patterns})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
