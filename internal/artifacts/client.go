package artifacts

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const fetchTimeout = 2 * time.Minute

// NewClient returns the client artifacts are downloaded with. The session
// bearer token is attached only to requests whose host is one of
// trustedHosts (the job store). Presigned storage URLs and any other host
// are fetched without credentials.
func NewClient(tokens oauth2.TokenSource, trustedHosts ...string) *http.Client {
	hosts := make(map[string]bool, len(trustedHosts))
	for _, h := range trustedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}
	return &http.Client{
		Timeout: fetchTimeout,
		Transport: &scopedTransport{
			hosts:  hosts,
			plain:  http.DefaultTransport,
			authed: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
			tokens: tokens,
		},
	}
}

// HostOf returns the host[:port] of rawURL, or "" when it does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Host
}

type scopedTransport struct {
	hosts  map[string]bool
	plain  http.RoundTripper
	authed http.RoundTripper
	tokens oauth2.TokenSource
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.tokens != nil && t.hosts[strings.ToLower(req.URL.Host)] {
		return t.authed.RoundTrip(req)
	}
	if req.Header.Get("Authorization") != "" {
		req = req.Clone(req.Context())
		req.Header.Del("Authorization")
	}
	return t.plain.RoundTrip(req)
}
