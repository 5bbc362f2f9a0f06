package shelfsdk

import (
	"errors"
	"fmt"
	"net"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Library errors
	CodeLibraryNotFound = "E_LIBRARY_NOT_FOUND" // the library item does not exist
	CodeLibraryScanning = "E_LIBRARY_SCANNING"  // a scan is in progress, no manifest yet
	CodeFileNotFound    = "E_FILE_NOT_FOUND"    // the file is not part of the library
	CodeInvalidPath     = "E_INVALID_PATH"      // the requested path is malformed or escapes the tree
	CodeRangeInvalid    = "E_RANGE_INVALID"     // the requested byte range cannot be satisfied
)

// APIError is the error payload returned by the OpenShelf server.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// permanentCodes are failures that retrying cannot fix.
var permanentCodes = map[string]struct{}{
	CodeInvalidRequest:  {},
	CodeLibraryNotFound: {},
	CodeFileNotFound:    {},
	CodeInvalidPath:     {},
	CodeRangeInvalid:    {},
}

// IsTemporary classifies a transfer error. API errors are permanent when the
// server says the resource is gone or the request is malformed; everything
// else (timeouts, resets, 5xx, rate limits) is worth retrying.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		_, permanent := permanentCodes[apiErr.Code]
		return !permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// transport-level failure without a structured response
	return true
}

// handleAPIError folds a request error and an API error response into one error.
// A request error with an error-status response still maps to a coded error:
// proxies and bare handlers answer with plain text, which fails the APIError
// decode, and the status is what decides retryability.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		if resp != nil && resp.Response != nil && resp.GetStatusCode() >= 400 {
			return fmt.Errorf("%s: %w", operation, statusToError(resp.GetStatusCode()))
		}
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: %w", operation, statusToError(resp.GetStatusCode()))
	}

	return nil
}

// statusToError maps a bare HTTP status to a coded error when the server
// did not (or could not) send a structured body.
func statusToError(status int) *APIError {
	switch status {
	case 404:
		return &APIError{Code: CodeFileNotFound, Message: "not found"}
	case 416:
		return &APIError{Code: CodeRangeInvalid, Message: "range not satisfiable"}
	case 429:
		return &APIError{Code: CodeRateLimited, Message: "rate limit exceeded"}
	case 400:
		return &APIError{Code: CodeInvalidRequest, Message: "bad request"}
	case 500, 502, 503, 504:
		return &APIError{Code: CodeInternalError, Message: fmt.Sprintf("server error %d", status)}
	default:
		return &APIError{Code: CodeUnknownError, Message: fmt.Sprintf("unexpected status %d", status)}
	}
}
