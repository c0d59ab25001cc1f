package collector

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"

	"github.com/auditmos/blackbox/logging"
	"github.com/auditmos/blackbox/storage"
	"github.com/auditmos/blackbox/transport"
)

var (
	errProjectMismatch = errors.New("projectId does not match token")
	errUnauthorized    = errors.New("unauthorized")
)

type IngestResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}

var validators fastjson.ParserPool

// validateBatchJSON checks the shape of a JSON batch before it is
// decoded, so malformed agents get a precise 400.
func validateBatchJSON(data []byte) error {
	p := validators.Get()
	defer validators.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("batch must be an object")
	}
	if pid := v.Get("projectId"); pid != nil && pid.Type() != fastjson.TypeString {
		return fmt.Errorf("projectId must be a string")
	}

	entries := v.Get("entries")
	if entries == nil || entries.Type() != fastjson.TypeArray {
		return fmt.Errorf("entries must be an array")
	}
	items, _ := entries.Array()
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			return fmt.Errorf("entries[%d] must be an object", i)
		}
		for _, key := range []string{"ts", "level", "msg"} {
			field := item.Get(key)
			if field == nil || field.Type() != fastjson.TypeString {
				return fmt.Errorf("entries[%d].%s must be a string", i, key)
			}
		}
	}
	return nil
}

func decodeBatch(data []byte, enc logging.Encoding) (logging.Batch, error) {
	if enc == logging.EncodingJSON {
		if err := validateBatchJSON(data); err != nil {
			return logging.Batch{}, err
		}
	}
	batch, err := logging.DecodeBatch(data, enc)
	if err != nil {
		return logging.Batch{}, err
	}
	for i, e := range batch.Entries {
		if !e.Level.Valid() {
			return logging.Batch{}, fmt.Errorf("entries[%d]: invalid level", i)
		}
		if _, err := e.Time(); err != nil {
			return logging.Batch{}, fmt.Errorf("entries[%d]: invalid ts", i)
		}
	}
	return batch, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func (s *Server) authenticate(token string) (string, error) {
	if token == "" {
		return "", errUnauthorized
	}
	project, err := s.tokens.Lookup(token)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return "", errUnauthorized
	}
	return project, err
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnauthorized) {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.log.Error("Token lookup failed", logging.WithError(err))
	writeJSONError(w, "token lookup failed", http.StatusInternalServerError)
}

// accept redacts and stores a decoded batch for project.
func (s *Server) accept(project string, batch logging.Batch) (*storage.StoredBatch, error) {
	if batch.ProjectID == "" {
		batch.ProjectID = project
	}
	if batch.ProjectID != project {
		return nil, errProjectMismatch
	}

	s.mu.RLock()
	redactor := s.redactor
	s.mu.RUnlock()

	for i, e := range batch.Entries {
		batch.Entries[i] = redactor.Redact(e)
	}

	stored, err := s.batches.Save(project, batch)
	if err != nil {
		return nil, err
	}
	if s.sink != nil {
		if err := s.sink.Write(stored, batch); err != nil {
			s.log.Warn("Batch mirror failed", logging.WithField("batch_id", stored.ID), logging.WithError(err))
		}
	}

	s.log.Debug("Batch stored",
		logging.WithField("project_id", project),
		logging.WithField("batch_id", stored.ID),
		logging.WithField("entries", stored.EntryCount),
	)
	return stored, nil
}

func (s *Server) bodyLimit() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxBodyBytes
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	project, err := s.authenticate(bearerToken(r))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	if ok, retryAfter := s.limiter.AllowRequest(project); !ok {
		s.log.Warn("Rate limit exceeded", logging.WithField("project_id", project))
		WriteRateLimitExceeded(w, retryAfter)
		return
	}

	limit := s.bodyLimit()
	if r.ContentLength > limit {
		writeJSONError(w, "batch too large", http.StatusRequestEntityTooLarge)
		return
	}

	var compression logging.Compression
	switch strings.ToLower(r.Header.Get("Content-Encoding")) {
	case "", "identity":
		compression = logging.CompressionNone
	case "gzip":
		compression = logging.CompressionGzip
	default:
		writeJSONError(w, "unsupported content encoding", http.StatusUnsupportedMediaType)
		return
	}

	body := http.MaxBytesReader(w, r.Body, limit)
	data, err := logging.Decompress(body, compression, limit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.Is(err, logging.ErrBodyTooLarge) || errors.As(err, &tooLarge) {
			writeJSONError(w, "batch too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch, err := decodeBatch(data, logging.EncodingForContentType(r.Header.Get("Content-Type")))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := s.accept(project, batch)
	if errors.Is(err, errProjectMismatch) {
		writeJSONError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		s.log.Error("Batch store failed", logging.WithField("project_id", project), logging.WithError(err))
		writeJSONError(w, "failed to store batch", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{Success: true, Key: stored.ID})
}

func (s *Server) handleIngestWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	project, err := s.authenticate(token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	if !s.limiter.AcquireStream(project) {
		WriteStreamLimitExceeded(w)
		return
	}
	defer s.limiter.ReleaseStream(project)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", logging.WithError(err))
		return
	}
	conn.SetReadLimit(s.bodyLimit())

	s.mu.Lock()
	s.streams[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := s.log.With(logging.WithField("project_id", project))
	log.Debug("Stream opened", logging.WithField("remote", r.RemoteAddr))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Stream closed", logging.WithError(err))
			}
			return
		}

		ack := s.ingestMessage(project, msgType, data)
		if err := conn.WriteJSON(ack); err != nil {
			log.Warn("Ack write failed", logging.WithError(err))
			return
		}
	}
}

func (s *Server) ingestMessage(project string, msgType int, data []byte) transport.Ack {
	if ok, _ := s.limiter.AllowRequest(project); !ok {
		return transport.Ack{OK: false, Error: "rate limit exceeded"}
	}

	enc := logging.EncodingJSON
	if msgType == websocket.BinaryMessage {
		enc = logging.EncodingCBOR
	}
	batch, err := decodeBatch(data, enc)
	if err != nil {
		return transport.Ack{OK: false, Error: err.Error()}
	}

	stored, err := s.accept(project, batch)
	if err != nil {
		if !errors.Is(err, errProjectMismatch) {
			s.log.Error("Batch store failed", logging.WithField("project_id", project), logging.WithError(err))
			return transport.Ack{OK: false, Error: "failed to store batch"}
		}
		return transport.Ack{OK: false, Error: err.Error()}
	}
	return transport.Ack{OK: true, Key: stored.ID}
}
