package httputil

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPError carries the status and body of a failed upstream call so
// callers can log the provider's actual complaint instead of a bare
// status code.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
	// RetryAfter is the parsed Retry-After header in seconds, if the
	// upstream sent one. Zero means the header was absent.
	RetryAfter int
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http %s from %s", e.Status, e.URL)
	}
	return fmt.Sprintf("http %s from %s: %s", e.Status, e.URL, body)
}

// IsRateLimited reports whether the upstream rejected the call for
// quota reasons.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ParseErrorResponse turns a non-2xx response into an *HTTPError,
// consuming up to 4KB of the body. The response body is left for the
// caller to close.
func ParseErrorResponse(resp *http.Response) *HTTPError {
	herr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		herr.URL = resp.Request.URL.Redacted()
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			herr.RetryAfter = secs
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		herr.Body = string(body)
	}
	return herr
}

// CheckResponse returns nil for 2xx responses and an *HTTPError
// otherwise.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return ParseErrorResponse(resp)
}
