package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/httputil"
	"github.com/banshee-data/exodash/internal/monitoring"
)

// MirrorStats is served at /debug/mirror-stats.
type MirrorStats struct {
	Candidates    int                       `json:"candidates"`
	ByStarSize    map[exoplanet.StarSize]int `json:"by_star_size"`
	SchemaVersion uint                      `json:"schema_version"`
	Loads         []LoadRecord              `json:"loads"`
}

// Stats gathers the mirror counters.
func (db *DB) Stats(ctx context.Context) (MirrorStats, error) {
	var st MirrorStats
	var err error
	if st.Candidates, err = db.CandidateCount(ctx); err != nil {
		return st, err
	}
	if st.ByStarSize, err = db.CountByStarSize(ctx); err != nil {
		return st, err
	}
	if st.SchemaVersion, _, err = db.MigrateVersion(); err != nil {
		return st, err
	}
	if st.Loads, err = db.Loads(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// AttachAdminRoutes mounts tailsql and the mirror pages under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://exodash-mirror", db.DB, &tailsql.DBOptions{
		Label: "Candidate mirror",
	})
	debug.Handle("tailsql/", "SQL over the loaded candidates", tsql.NewMux())

	debug.HandleFunc("mirror-stats", "Row counts and load history of the SQL mirror", func(w http.ResponseWriter, r *http.Request) {
		st, err := db.Stats(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read mirror stats: %v", err))
			return
		}
		httputil.WriteJSONOK(w, st)
	})

	debug.Handle("snapshot", "Download the SQL mirror as a gzipped SQLite file", http.HandlerFunc(db.serveSnapshot))
	return nil
}

// serveSnapshot writes the mirror to a temporary file with VACUUM INTO and
// streams it gzipped.
func (db *DB) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "exodash-snapshot-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create snapshot dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("Failed to remove snapshot dir: %v", err)
		}
	}()

	name := fmt.Sprintf("exodash-%d.db", time.Now().Unix())
	path := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", path); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create snapshot: %v", err), http.StatusInternalServerError)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("Failed to stream snapshot: %v", err)
	}
}
