package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auditmos/blackbox/logging"
)

const (
	ClassCritical = "critical"
	ClassWarning  = "warning"
	ClassInfo     = "info"
)

type AnalyzeRequest struct {
	Logs []logging.Entry `json:"logs"`
}

type AnalyzeResponse struct {
	Classification string         `json:"classification"`
	Counts         map[string]int `json:"counts"`
	Total          int            `json:"total"`
	Prompt         string         `json:"prompt"`
}

// Classify is critical when any entry is ERROR or FATAL, warning when any
// is WARN, info otherwise.
func Classify(entries []logging.Entry) string {
	class := ClassInfo
	for _, e := range entries {
		switch e.Level {
		case logging.ERROR, logging.FATAL:
			return ClassCritical
		case logging.WARN:
			class = ClassWarning
		}
	}
	return class
}

func countLevels(entries []logging.Entry) map[string]int {
	counts := make(map[string]int, len(logging.Levels))
	for _, l := range logging.Levels {
		counts[l.String()] = 0
	}
	for _, e := range entries {
		counts[e.Level.String()]++
	}
	return counts
}

func buildAnalysisPrompt(entries []logging.Entry, class string) (string, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Analyze the following logs and provide root cause analysis (RCA), fix suggestions and configuration recommendations.\n\n")
	fmt.Fprintf(&b, "Classification: %s\nLogs:\n%s\n\n", class, data)
	b.WriteString("Please provide:\n1. Root Cause Analysis (RCA)\n2. Fix Suggestions\n3. Configuration Recommendations")
	return b.String(), nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.bodyLimit())).Decode(&req); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	class := Classify(req.Logs)
	prompt, err := buildAnalysisPrompt(req.Logs, class)
	if err != nil {
		writeJSONError(w, "failed to build prompt", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Classification: class,
		Counts:         countLevels(req.Logs),
		Total:          len(req.Logs),
		Prompt:         prompt,
	})
}

type DeadlockResponse struct {
	Classification    string `json:"classification"`
	InstructionPrompt string `json:"instructionPrompt"`
}

// ClassifyDeadlock inspects a free-form report for an errorPattern or
// deadlock marker.
func ClassifyDeadlock(report logging.Value) string {
	if v, ok := report.Get("errorPattern"); ok && truthy(v) {
		return "error_pattern"
	}
	if v, ok := report.Get("deadlock"); ok && truthy(v) {
		return "deadlock"
	}
	return "general"
}

func truthy(v logging.Value) bool {
	switch v.Kind() {
	case logging.KindNull:
		return false
	case logging.KindBool:
		return v.Bool()
	case logging.KindNumber:
		return v.Float() != 0
	case logging.KindString:
		return v.Text() != ""
	default:
		return true
	}
}

func (s *Server) handleDeadlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.bodyLimit()))
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	report, err := logging.ParseValue(data)
	if err != nil || report.Kind() != logging.KindObject {
		writeJSONError(w, "report must be a JSON object", http.StatusBadRequest)
		return
	}

	class := ClassifyDeadlock(report)
	var b strings.Builder
	b.WriteString("Analyze the following stuck situation and help resolve it.\n\n")
	fmt.Fprintf(&b, "Classification: %s\nReport:\n%s\n\n", class, report.String())
	b.WriteString("Please provide:\n1. Explanation of the situation\n2. Root cause analysis\n3. Instructions to resolve it\n4. Prevention recommendations")

	writeJSON(w, http.StatusOK, DeadlockResponse{Classification: class, InstructionPrompt: b.String()})
}
