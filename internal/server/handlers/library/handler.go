package library

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/server/handlers/api"
	"github.com/openshelf/openshelf/internal/server/library"
)

type Handler struct {
	svc *library.LibraryService
}

func New(svc *library.LibraryService) *Handler {
	return &Handler{svc: svc}
}

type libraryInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size"`
	Digest    string `json:"digest"`
}

// List returns the library catalog.
func (h *Handler) List(ctx *gin.Context) {
	records, err := h.svc.List()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	infos := make([]*libraryInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, &libraryInfo{
			ID:        rec.ID,
			Name:      rec.Name,
			FileCount: rec.FileCount,
			TotalSize: rec.TotalSize,
			Digest:    rec.Digest,
		})
	}
	ctx.PureJSON(http.StatusOK, gin.H{"libraries": infos})
}

// Get returns one catalog entry.
func (h *Handler) Get(ctx *gin.Context) {
	rec, err := h.svc.Info(ctx.Param("id"))
	if err != nil {
		h.abortServiceError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &libraryInfo{
		ID:        rec.ID,
		Name:      rec.Name,
		FileCount: rec.FileCount,
		TotalSize: rec.TotalSize,
		Digest:    rec.Digest,
	})
}

// Digest returns only the manifest digest, the cheap polling endpoint.
func (h *Handler) Digest(ctx *gin.Context) {
	libraryID := ctx.Param("id")
	digest, err := h.svc.Digest(libraryID)
	if err != nil {
		h.abortServiceError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, gin.H{
		"library_id": libraryID,
		"digest":     digest,
	})
}

// Manifest streams the stored manifest blob verbatim.
func (h *Handler) Manifest(ctx *gin.Context) {
	data, err := h.svc.ManifestRaw(ctx.Param("id"))
	if err != nil {
		h.abortServiceError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/json", data)
}

// File serves one library file. http.ServeFile handles Range requests,
// conditional headers and 416 responses natively.
func (h *Handler) File(ctx *gin.Context) {
	relPath := strings.TrimPrefix(ctx.Param("path"), "/")

	abs, err := h.svc.FilePath(ctx.Param("id"), relPath)
	if err != nil {
		h.abortServiceError(ctx, err)
		return
	}

	http.ServeFile(ctx.Writer, ctx.Request, abs)
}

type rescanRequest struct {
	LibraryID string `json:"library_id"`
}

// Rescan forces re-fingerprinting of one library, or all when no id is given.
func (h *Handler) Rescan(ctx *gin.Context) {
	var req rescanRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
	}

	var (
		scanned map[string]string
		err     error
	)
	if req.LibraryID == "" {
		scanned, err = h.svc.RescanAll(ctx.Request.Context())
	} else {
		var digest string
		digest, err = h.svc.Rescan(ctx.Request.Context(), req.LibraryID)
		scanned = map[string]string{req.LibraryID: digest}
	}
	if err != nil {
		h.abortServiceError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{"scanned": scanned})
}

func (h *Handler) abortServiceError(ctx *gin.Context, err error) {
	var pathErr *manifest.PathValidationError
	var scanErr *manifest.ScanError

	switch {
	case errors.Is(err, library.ErrLibraryNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeLibraryNotFound, err)
	case errors.Is(err, library.ErrLibraryScanning):
		api.AbortWithError(ctx, http.StatusServiceUnavailable, api.CodeLibraryScanning, err)
	case errors.Is(err, library.ErrFileNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
	case errors.As(err, &pathErr):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidPath, err)
	case errors.As(err, &scanErr):
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeScanFailed, err)
	default:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
	}
}
