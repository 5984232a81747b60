package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// archivePrefix confines browsing to the archive sweep's key space. Nothing
// else in the bucket is reachable through this handler.
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage archives written by the archive
// sweep. Only wired when object storage is configured.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archives"),
	}
}

// archiveObject is the JSON shape of one stored archive. Path is relative
// to the archive prefix and doubles as the download path.
type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// listArchivesResponse wraps the archive list response.
type listArchivesResponse struct {
	Archives []archiveObject `json:"archives"`
	Count    int             `json:"count"`
}

// ListArchives returns the stored archive objects, optionally narrowed to
// one account.
// GET /api/archives?account=mirror
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if account := r.URL.Query().Get("account"); account != "" {
		prefix += account + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	archives := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		archives = append(archives, archiveObject{
			Path:         strings.TrimPrefix(info.Path, archivePrefix),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: archives, Count: len(archives)})
}

// Download streams one archive object as it is stored, newline-delimited
// JSON.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown archive")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive download failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		// Status and headers are already out; note the broken transfer.
		h.logger.DebugContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Head reports whether one archive object exists without transferring it.
// HEAD /api/archives/{path...}
func (h *ArchiveHandler) Head(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}

	exists, err := h.blobs.Exists(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive head failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// objectKey resolves the {path...} wildcard to an object key pinned inside
// the archive prefix.
func objectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := pathParam(r, "path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return "", false
	}
	return archivePrefix + path, true
}
