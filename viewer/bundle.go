package viewer

import (
	"net/http"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/auditmos/blackbox/logging"
)

// Bundle is a self-contained debug snapshot for attaching to bug reports.
type Bundle struct {
	Timestamp        string          `json:"timestamp"`
	Logs             []logging.Entry `json:"logs"`
	Files            []string        `json:"files"`
	Deps             []string        `json:"deps"`
	ProjectStructure []string        `json:"projectStructure"`
	Stats            StatsResponse   `json:"stats"`
}

func buildDeps() []string {
	deps := []string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}
	for _, d := range info.Deps {
		if d.Replace != nil {
			d = d.Replace
		}
		deps = append(deps, d.Path+"@"+d.Version)
	}
	return deps
}

func buildStructure() []string {
	structure := []string{
		"Go: " + runtime.Version(),
		"Platform: " + runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		structure = append(structure, "Module: "+info.Main.Path)
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				structure = append(structure, "Revision: "+setting.Value)
			}
		}
	}
	if host, err := os.Hostname(); err == nil {
		structure = append(structure, "Host: "+host)
	}
	return structure
}

func (s *Server) buildBundle(q query) Bundle {
	return Bundle{
		Timestamp:        logging.FormatTimestamp(s.clock.Now()),
		Logs:             s.selectEntries(q),
		Files:            []string{},
		Deps:             buildDeps(),
		ProjectStructure: buildStructure(),
		Stats: StatsResponse{
			Stats:   s.source.Stats(),
			Pending: s.source.Pending(),
			Memory:  len(s.source.MemoryLog(0)),
		},
	}
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := "debug-bundle-" + s.clock.Now().UTC().Format("2006-01-02T15-04-05") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	writeJSON(w, http.StatusOK, s.buildBundle(q))
}
