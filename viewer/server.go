// Package viewer serves the live log panel for an agent's in-memory log.
package viewer

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/auditmos/blackbox/clock"
	"github.com/auditmos/blackbox/instrument"
	"github.com/auditmos/blackbox/logging"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

const (
	DefaultLimit = 50
	pollInterval = time.Second
)

// Source is what the viewer reads from; *logging.StandardLogger
// satisfies it.
type Source interface {
	MemoryLog(limit int) []logging.Entry
	Stats() logging.DispatchStats
	Pending() int
}

type ServerConfig struct {
	Addr         string
	Source       Source
	Logger       logging.Logger
	Clock        clock.Clock
	OverridesDir string
}

type Server struct {
	addr      string
	source    Source
	log       logging.Logger
	clock     clock.Clock
	templates *template.Template

	mu         sync.Mutex
	onReady    func(addr string)
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("viewer: source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	tmpl, err := loadTemplates(cfg.OverridesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Server{
		addr:      cfg.Addr,
		source:    cfg.Source,
		log:       logger,
		clock:     clk,
		templates: tmpl,
	}, nil
}

func loadTemplates(overridesDir string) (*template.Template, error) {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
	}
	tmpl := template.New("").Funcs(funcMap)

	var fsys fs.FS = embeddedTemplates
	dir := "templates"
	if overridesDir != "" {
		if info, err := os.Stat(overridesDir); err == nil && info.IsDir() {
			fsys = os.DirFS(overridesDir)
			dir = "."
		}
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		content, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func (s *Server) SetReadyCallback(fn func(addr string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/bundle", s.handleBundle)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/report", s.handleReport)
	return mux
}

func (s *Server) Handler() http.Handler {
	return s.buildMux()
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("viewer listen: %w", err)
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

	s.log.Info("Viewer listening", logging.WithField("addr", "http://"+ln.Addr().String()))
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
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type IndexData struct {
	Levels []string
	PollMS int64
	Limit  int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	levels := []string{"ALL"}
	for i := len(logging.Levels) - 1; i >= 0; i-- {
		levels = append(levels, logging.Levels[i].String())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := IndexData{Levels: levels, PollMS: pollInterval.Milliseconds(), Limit: DefaultLimit}
	if err := s.templates.ExecuteTemplate(w, "index", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type query struct {
	level  string
	limit  int
	filter *Filter
}

func parseQuery(r *http.Request) (query, error) {
	v := r.URL.Query()
	q := query{level: strings.ToUpper(strings.TrimSpace(v.Get("level"))), limit: DefaultLimit}

	if q.level == "" {
		q.level = "ALL"
	}
	if q.level != "ALL" {
		var l logging.Level
		if err := l.UnmarshalText([]byte(q.level)); err != nil {
			return q, fmt.Errorf("invalid level %q", q.level)
		}
		q.level = l.String()
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.limit = n
	}

	if expr := strings.TrimSpace(v.Get("filter")); expr != "" {
		f, err := CompileFilter(expr)
		if err != nil {
			return q, err
		}
		q.filter = f
	}
	return q, nil
}

// selectEntries applies the level and filter to the whole memory log and
// keeps the newest limit matches, oldest first. limit 0 keeps all.
func (s *Server) selectEntries(q query) []logging.Entry {
	all := s.source.MemoryLog(0)
	out := make([]logging.Entry, 0, len(all))
	for _, e := range all {
		if q.level != "ALL" && e.Level.String() != q.level {
			continue
		}
		if q.filter != nil && !q.filter.Match(e) {
			continue
		}
		out = append(out, e)
	}
	if q.limit > 0 && len(out) > q.limit {
		out = out[len(out)-q.limit:]
	}
	return out
}

type LogsResponse struct {
	Entries []logging.Entry `json:"entries"`
	Count   int             `json:"count"`
	Level   string          `json:"level"`
	Filter  string          `json:"filter,omitempty"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := s.selectEntries(q)
	resp := LogsResponse{Entries: entries, Count: len(entries), Level: q.level}
	if q.filter != nil {
		resp.Filter = q.filter.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FormatExport renders entries as `[ts] LEVEL: msg` lines, each followed
// by its stack when present.
func FormatExport(entries []logging.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Level, e.Message)
		if e.Stack != "" {
			line += "\n" + e.Stack
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := "logs-" + s.clock.Now().UTC().Format("2006-01-02T15-04-05") + ".txt"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write([]byte(FormatExport(s.selectEntries(q))))
}

type StatsResponse struct {
	Stats   logging.DispatchStats `json:"stats"`
	Pending int                   `json:"pending"`
	Memory  int                   `json:"memory"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:   s.source.Stats(),
		Pending: s.source.Pending(),
		Memory:  len(s.source.MemoryLog(0)),
	})
}

type ReportRequest struct {
	Description string `json:"description"`
}

// handleReport records a user's "I'm stuck" description as an entry so
// it travels with the logs around it.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		writeJSONError(w, "description is required", http.StatusBadRequest)
		return
	}

	s.log.Info("Stuck report submitted",
		logging.WithContext(logging.ContextInfo{Module: "viewer"}),
		logging.WithField("description", desc),
		logging.WithField("recent_entries", len(s.source.MemoryLog(0))),
	)
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
