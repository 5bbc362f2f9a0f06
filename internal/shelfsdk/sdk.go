package shelfsdk

import (
	"net/http"
	"time"

	"github.com/imroc/req/v3"

	"github.com/openshelf/openshelf/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
)

// ShelfSDK is the client for the OpenShelf library server API.
type ShelfSDK struct {
	client  *req.Client
	baseURL string
	Library *LibraryAPI
}

// New creates a new ShelfSDK client.
func New(baseURL string) (*ShelfSDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(0). // range downloads can be long-lived; cancellation via context
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(1*time.Second, 5*time.Second).
		SetCommonRetryCondition(shouldRetry).
		SetCommonHeader(HeaderUserAgent, "OpenShelf/"+version.Version).
		SetCommonErrorResult(&APIError{})

	return &ShelfSDK{
		client:  client,
		baseURL: baseURL,
		Library: newLibraryAPI(client),
	}, nil
}

// shouldRetry keeps transport-level retries away from statuses that cannot
// improve with another attempt; 4xx other than 429 is answered, not flaky.
func shouldRetry(resp *req.Response, err error) bool {
	if resp != nil && resp.Response != nil {
		code := resp.GetStatusCode()
		if code == http.StatusTooManyRequests || code >= 500 {
			return true
		}
		if code >= 400 {
			return false
		}
	}
	return err != nil
}

// Close releases idle connections held by the underlying client.
func (s *ShelfSDK) Close() {
	s.client.GetTransport().CloseIdleConnections()
}
