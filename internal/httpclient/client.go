// Package httpclient provides the outbound HTTP client used for market data feeds.
package httpclient

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/marketpulse/errors"
)

// DefaultTimeout bounds every feed request, including reading the body
const DefaultTimeout = 30 * time.Second

// secretParams are query parameters redacted from URLs before they reach errors or logs
var secretParams = []string{"apiKey", "apikey", "api_key", "token"}

// Client wraps http.Client with a scheme allow-list, a redirect cap, a fixed
// User-Agent and credential redaction in returned errors.
type Client struct {
	*http.Client
	userAgent      string
	allowedSchemes []string
	maxRedirects   int
}

// Options customizes a Client. Zero values select defaults.
type Options struct {
	Timeout        time.Duration // Default: 30s
	UserAgent      string        // Default: "marketpulse"
	AllowedSchemes []string      // Default: ["https", "http"]
	MaxRedirects   *int          // Default: 5
	Transport      http.RoundTripper
}

// New creates a feed HTTP client
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "marketpulse"
	}
	schemes := opts.AllowedSchemes
	if schemes == nil {
		schemes = []string{"https", "http"}
	}
	maxRedirects := 5
	if opts.MaxRedirects != nil {
		maxRedirects = *opts.MaxRedirects
	}

	c := &Client{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		userAgent:      userAgent,
		allowedSchemes: schemes,
		maxRedirects:   maxRedirects,
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}
	return c
}

func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}
	if u.Hostname() == "" {
		return errors.New("URL missing hostname")
	}
	return nil
}

// Do executes req. Transport errors are returned with credentials stripped from
// the URL, since net/http embeds the full request URL in *url.Error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = RedactURL(uerr.URL)
			return nil, uerr
		}
		return nil, err
	}
	return resp, nil
}

// RedactURL replaces secret query parameter values with "REDACTED".
// Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
