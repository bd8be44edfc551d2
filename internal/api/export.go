package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/progress"
	"github.com/p-n-ai/study-tracker/internal/report"
)

const (
	exportTimeout = 10 * time.Second
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// handleExport reads the caller's stored document once and returns it as a
// workbook. Anonymous callers must present the token they were issued.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r, false)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exportTimeout)
	defer cancel()

	path := docstore.Path(s.cfg.Namespace, s.cfg.AppID, user.ID)
	doc, err := docstore.ReadOnce(ctx, s.cfg.Store, path)
	if err != nil {
		slog.Error("export read failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not read document"})
		return
	}

	tree := progress.Tree{}
	if doc != nil {
		if tree, err = progress.DecodeDocument(doc); err != nil {
			slog.Error("export decode failed", "user_id", user.ID, "error", err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "stored document is invalid"})
			return
		}
	}

	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, tree); err != nil {
		slog.Error("export render failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not render workbook"})
		return
	}

	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", `attachment; filename="study-progress.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write workbook", "user_id", user.ID, "error", err)
	}
}
