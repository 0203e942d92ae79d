package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// HTTPResolver implements TokenResolver by GETing source+token and
// decoding a `{"host": "...", "port": N}` JSON body, per spec §4.5.
type HTTPResolver struct {
	source string
	client *http.Client
}

// NewHTTPResolver builds a resolver against the given base URL
// (source), to which the raw token is appended.
func NewHTTPResolver(source string) *HTTPResolver {
	return &HTTPResolver{
		source: source,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type httpTargetResponse struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Lookup implements TokenResolver.
func (r *HTTPResolver) Lookup(token string) (Target, bool) {
	resp, err := r.client.Get(r.source + url.QueryEscape(token))
	if err != nil {
		return Target{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Target{}, false
	}

	var body httpTargetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Target{}, false
	}
	if body.Host == "" {
		return Target{}, false
	}
	return TCPTarget(body.Host, body.Port), true
}
