package shelfsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/imroc/req/v3"

	"github.com/openshelf/openshelf/internal/manifest"
)

const (
	v1Libraries = "/api/v1/libraries"
)

// LibraryAPI exposes the manifest and file-range endpoints of the server.
type LibraryAPI struct {
	client *req.Client
}

func newLibraryAPI(client *req.Client) *LibraryAPI {
	return &LibraryAPI{client: client}
}

// List returns the server's library catalog.
func (l *LibraryAPI) List(ctx context.Context) (*ListResponse, error) {
	var apiResp ListResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Libraries)

	if err := handleAPIError(resp, err, "library list"); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

// Get returns the catalog entry of one library.
func (l *LibraryAPI) Get(ctx context.Context, libraryID string) (*LibraryInfo, error) {
	var apiResp LibraryInfo
	resp, err := l.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(fmt.Sprintf("%s/%s", v1Libraries, url.PathEscape(libraryID)))

	if err := handleAPIError(resp, err, "library get"); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

// GetDigest fetches only the manifest digest of a library. Cheap by design:
// the server answers from a cache without materializing the manifest.
func (l *LibraryAPI) GetDigest(ctx context.Context, libraryID string) (string, error) {
	var apiResp DigestResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(fmt.Sprintf("%s/%s/digest", v1Libraries, url.PathEscape(libraryID)))

	if err := handleAPIError(resp, err, "library digest"); err != nil {
		return "", err
	}
	return apiResp.Digest, nil
}

// GetManifest fetches and validates the full manifest of a library.
func (l *LibraryAPI) GetManifest(ctx context.Context, libraryID string) (*manifest.Manifest, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/%s/manifest", v1Libraries, url.PathEscape(libraryID)))

	if err := handleAPIError(resp, err, "library manifest"); err != nil {
		return nil, err
	}

	data, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("library manifest: read body: %w", err)
	}
	return manifest.Decode(data)
}

// Rescan asks the server to re-fingerprint a library (or all of them).
func (l *LibraryAPI) Rescan(ctx context.Context, params *RescanParams) (*RescanResponse, error) {
	var apiResp RescanResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1Libraries + "/rescan")

	if err := handleAPIError(resp, err, "library rescan"); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

// FileStream is an open, possibly partial, file body.
type FileStream struct {
	Body io.ReadCloser

	// Offset the stream actually starts at. Zero when the server ignored
	// the range request; the caller must then discard its resume cursor.
	Offset int64

	// Remaining bytes the server advertised, -1 when unknown.
	Length int64
}

// OpenFileRange opens a file of a library starting at the given byte offset.
// The caller owns the returned body and must close it. A server that does
// not honor the range responds 200 with the whole file, which the caller
// detects via FileStream.Offset == 0.
func (l *LibraryAPI) OpenFileRange(ctx context.Context, libraryID, relPath string, offset int64) (*FileStream, error) {
	r := l.client.R().
		SetContext(ctx).
		DisableAutoReadResponse()

	if offset > 0 {
		r.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := r.Get(fmt.Sprintf("%s/%s/files/%s", v1Libraries, url.PathEscape(libraryID), escapeRelPath(relPath)))
	if err != nil {
		// the error may be the APIError decode choking on a plain-text
		// error body; the status code is still authoritative
		if resp != nil && resp.Response != nil && resp.GetStatusCode() >= 400 {
			return nil, fmt.Errorf("library file %q: %w", relPath, statusToError(resp.GetStatusCode()))
		}
		return nil, fmt.Errorf("http request error: library file: %w", err)
	}

	switch resp.GetStatusCode() {
	case http.StatusOK:
		return &FileStream{Body: resp.Body, Offset: 0, Length: resp.ContentLength}, nil
	case http.StatusPartialContent:
		return &FileStream{Body: resp.Body, Offset: offset, Length: resp.ContentLength}, nil
	default:
		resp.Body.Close()
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			return nil, fmt.Errorf("library file %q: %w", relPath, apiErr)
		}
		return nil, fmt.Errorf("library file %q: %w", relPath, statusToError(resp.GetStatusCode()))
	}
}

// escapeRelPath escapes each path segment but keeps the separators.
func escapeRelPath(relPath string) string {
	segs := strings.Split(relPath, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
