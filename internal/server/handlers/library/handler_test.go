package library

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/db"
	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/server/handlers/api"
	"github.com/openshelf/openshelf/internal/server/library"
)

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	sqldb, err := db.NewSqliteDb(db.WithPath(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	svc, err := library.NewLibraryService(root, sqldb)
	require.NoError(t, err)

	h := New(svc)
	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/libraries", h.List)
	v1.GET("/libraries/:id", h.Get)
	v1.GET("/libraries/:id/digest", h.Digest)
	v1.GET("/libraries/:id/manifest", h.Manifest)
	v1.GET("/libraries/:id/files/*path", h.File)
	v1.POST("/libraries/rescan", h.Rescan)
	return r, root
}

func seedLibrary(t *testing.T, r *gin.Engine, root, libraryID string, files map[string]string) {
	t.Helper()
	for relPath, content := range files {
		abs := filepath.Join(root, libraryID, filepath.FromSlash(relPath))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	body, _ := json.Marshal(map[string]string{"library_id": libraryID})
	w := doRequest(r, http.MethodPost, "/api/v1/libraries/rescan", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func doRequest(r *gin.Engine, method, target string, body *bytes.Reader, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func apiErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var apiErr api.ShelfAPIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr.Code
}

func TestHandlerList(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Libraries []struct {
			ID        string `json:"id"`
			FileCount int    `json:"file_count"`
			Digest    string `json:"digest"`
		} `json:"libraries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Libraries, 1)
	assert.Equal(t, "lib1", resp.Libraries[0].ID)
	assert.Equal(t, 1, resp.Libraries[0].FileCount)
	assert.NotEmpty(t, resp.Libraries[0].Digest)
}

func TestHandlerGet(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa", "b.dat": "bb"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info struct {
		ID        string `json:"id"`
		FileCount int    `json:"file_count"`
		TotalSize int64  `json:"total_size"`
		Digest    string `json:"digest"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "lib1", info.ID)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, int64(5), info.TotalSize)
	assert.Len(t, info.Digest, 64)

	w = doRequest(r, http.MethodGet, "/api/v1/libraries/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerDigest(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/digest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		LibraryID string `json:"library_id"`
		Digest    string `json:"digest"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lib1", resp.LibraryID)
	assert.Len(t, resp.Digest, 64)

	w = doRequest(r, http.MethodGet, "/api/v1/libraries/ghost/digest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.CodeLibraryNotFound, apiErrorCode(t, w))
}

func TestHandlerManifest(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa", "sub/b.dat": "bbb"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/manifest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	m, err := manifest.Decode(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, m.FileCount())
	assert.NotNil(t, m.Lookup("sub/b.dat"))
}

func TestHandlerFileFull(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"sub/a.dat": "0123456789"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/files/sub/a.dat", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
}

func TestHandlerFileRange(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "0123456789"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/files/a.dat", nil,
		map[string]string{"Range": "bytes=4-"})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "456789", w.Body.String())
	assert.Equal(t, "bytes 4-9/10", w.Header().Get("Content-Range"))
}

func TestHandlerFileRangeNotSatisfiable(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "0123456789"})

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/files/a.dat", nil,
		map[string]string{"Range": "bytes=100-"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
}

func TestHandlerFileNotInManifest(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa"})

	// exists on disk but was added after the last scan
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib1", "fresh.dat"), []byte("x"), 0o644))

	w := doRequest(r, http.MethodGet, "/api/v1/libraries/lib1/files/fresh.dat", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.CodeFileNotFound, apiErrorCode(t, w))
}

func TestHandlerFileTraversalRejected(t *testing.T) {
	r, root := newTestRouter(t)
	seedLibrary(t, r, root, "lib1", map[string]string{"a.dat": "aaa"})

	// the secret must never be reachable through the files endpoint
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("hidden"), 0o600))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/libraries/lib1/files/a.dat", nil)
	req.URL.Path = "/api/v1/libraries/lib1/files/../secret.txt"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hidden")
}

func TestHandlerRescanAll(t *testing.T) {
	r, root := newTestRouter(t)
	for _, lib := range []string{"alpha", "beta"} {
		abs := filepath.Join(root, lib, "f.dat")
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(lib), 0o644))
	}

	w := doRequest(r, http.MethodPost, "/api/v1/libraries/rescan", bytes.NewReader(nil), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Scanned map[string]string `json:"scanned"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Scanned, 2)
}

func TestHandlerRescanUnknownLibrary(t *testing.T) {
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"library_id": "ghost"})
	w := doRequest(r, http.MethodPost, "/api/v1/libraries/rescan", bytes.NewReader(body), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.CodeLibraryNotFound, apiErrorCode(t, w))
}
