package strava

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Transport injects a bearer token from Source into every request and
// retries once with a force-refreshed token when Strava answers 401.
type Transport struct {
	Source TokenSource
	// Base is the underlying transport. nil means http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Source.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("getting token for request: %w", err)
	}

	clone := cloneRequest(req)
	clone.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := t.base().RoundTrip(clone)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		slog.Warn("strava rejected token, forcing refresh", "url", req.URL.Path)

		token, err = t.Source.ForceRefresh(req.Context())
		if err != nil {
			return nil, fmt.Errorf("force-refreshing token after 401: %w", err)
		}

		clone = cloneRequest(req)
		clone.Header.Set("Authorization", "Bearer "+token.AccessToken)
		return t.base().RoundTrip(clone)
	}

	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// cloneRequest makes a shallow copy with a deep copy of the headers,
// since RoundTrippers must not mutate the caller's request.
func cloneRequest(req *http.Request) *http.Request {
	clone := new(http.Request)
	*clone = *req
	clone.Header = make(http.Header, len(req.Header))
	for k, v := range req.Header {
		clone.Header[k] = append([]string(nil), v...)
	}
	return clone
}
