package server

import (
	"net/http"
	"strings"

	"github.com/koustreak/pgextract/internal/canonical"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/extract"
	"github.com/koustreak/pgextract/internal/filestore"
	"github.com/koustreak/pgextract/internal/schema"
	"github.com/koustreak/pgextract/internal/viewdef"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, r, errs.Wrap(errs.ErrKindConnectionFailed, "database unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type extractRequest struct {
	Schemas      []string      `json:"schemas"`
	Kinds        []schema.Kind `json:"kinds"`
	ResolveViews *bool         `json:"resolve_views"`
	Save         bool          `json:"save"`
}

type extractResponse struct {
	*extract.Result
	Snapshot *filestore.Snapshot `json:"snapshot,omitempty"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Save && s.snapshots == nil {
		writeError(w, r, errs.New(errs.ErrKindInvalidInput, "snapshot export is not configured"))
		return
	}

	opts := s.defaults
	opts.OnProgressStart, opts.OnProgress, opts.OnProgressEnd = nil, nil, nil
	if len(req.Schemas) > 0 {
		opts.Schemas = req.Schemas
	}
	if len(req.Kinds) > 0 {
		opts.Kinds = req.Kinds
	}
	if req.ResolveViews != nil {
		opts.ResolveViews = *req.ResolveViews
	}

	res, err := s.extractor.Extract(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := extractResponse{Result: res}
	if req.Save {
		if resp.Snapshot, err = s.snapshots.Save(r.Context(), s.database, res.RunID, res.StartedAt, res); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type canonicalizeRequest struct {
	Types []string `json:"types"`
}

type canonicalizeResponse struct {
	Types []canonical.Type `json:"types"`
}

func (s *Server) canonicalize(w http.ResponseWriter, r *http.Request) {
	var req canonicalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	types, err := s.extractor.Canonicalizer().Canonicalize(r.Context(), req.Types)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canonicalizeResponse{Types: types})
}

type lineageRequest struct {
	SQL    string `json:"sql"`
	Schema string `json:"schema"`
}

type lineageResponse struct {
	References []viewdef.Reference `json:"references"`
}

func (s *Server) viewLineage(w http.ResponseWriter, r *http.Request) {
	var req lineageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, r, errs.New(errs.ErrKindInvalidInput, "sql is required"))
		return
	}
	if req.Schema == "" {
		req.Schema = "public"
	}

	refs, err := viewdef.ExtractWith(req.SQL, viewdef.Options{
		DefaultSchema:       req.Schema,
		RequireExpandedStar: true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineageResponse{References: refs})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, r, errs.New(errs.ErrKindNotFound, "snapshot export is not configured"))
		return
	}

	database := r.URL.Query().Get("database")
	if database == "" {
		database = s.database
	}
	snaps, err := s.snapshots.List(r.Context(), database)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, r, errs.New(errs.ErrKindNotFound, "snapshot export is not configured"))
		return
	}

	snap, err := s.snapshots.Latest(r.Context(), s.database)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
