// Package session owns the one mutable authenticated session and its
// credential store. Every other component reads the Session by reference;
// nothing clones its cookie or token state.
package session

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
)

// HTTPClient is the subset of tls_client.HttpClient the session needs.
// Narrow on purpose: tests script it without a network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	GetCookies(u *url.URL) []*http.Cookie
	SetCookies(u *url.URL, cookies []*http.Cookie)
}

// SignPair is the short-lived anti-bot signature and timestamp required by
// certain api-gateway calls, captured out-of-band per endpoint.
type SignPair struct {
	Signature string // h5st
	Timestamp string // t, unix milliseconds as text
}

const (
	probeURL     = "https://order.jd.com/center/list.action"
	homeURL      = "https://www.jd.com/"
	signedInMark = "nickname"
)

// origins the storefront spreads its cookies across. Persisted blobs and
// pre-provisioned cookie strings are applied to all of them.
var origins = []string{
	"https://www.jd.com",
	"https://passport.jd.com",
	"https://qr.m.jd.com",
	"https://item.jd.com",
	"https://cart.jd.com",
	"https://api.m.jd.com",
	"https://trade.jd.com",
	"https://order.jd.com",
}

type Session struct {
	UserAgent     string
	Authenticated bool

	client HTTPClient
	dial   func() (HTTPClient, error)
	signs  map[string]SignPair
}

// New creates an empty session around a freshly dialed client. The dial
// function is kept so the client can be dropped and recreated when a
// validity probe fails.
func New(userAgent string, dial func() (HTTPClient, error)) (*Session, error) {
	if userAgent == "" {
		userAgent = headers.DefaultUserAgent
	}
	c, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dial client: %w", err)
	}
	return &Session{
		UserAgent: userAgent,
		client:    c,
		dial:      dial,
		signs:     map[string]SignPair{},
	}, nil
}

func (s *Session) Do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}

// Reset discards the network client and dials a new one, dropping any
// connection pool a poisoned session may have tainted.
func (s *Session) Reset() {
	c, err := s.dial()
	if err != nil {
		log.Error().Err(err).Msg("recreating client failed, keeping the old one")
		return
	}
	s.client = c
	s.Authenticated = false
}

// Cookie returns the named cookie's value for an origin, or "".
func (s *Session) Cookie(origin, name string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	for _, c := range s.client.GetCookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SetCookie sets one cookie on a single origin.
func (s *Session) SetCookie(origin, name, value string) {
	u, err := url.Parse(origin)
	if err != nil {
		return
	}
	s.client.SetCookies(u, []*http.Cookie{{Name: name, Value: value}})
}

// ImportCookieString applies a browser-copied "a=b; c=d" cookie string to
// every storefront origin and reports how many pairs it found.
func (s *Session) ImportCookieString(raw string) int {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	if len(cookies) == 0 {
		return 0
	}
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		s.client.SetCookies(u, cookies)
	}
	return len(cookies)
}

// ImportCookies applies persisted cookies to every storefront origin.
func (s *Session) ImportCookies(cookies []*http.Cookie) {
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		s.client.SetCookies(u, cookies)
	}
}

// Cookies returns the current cookie set across all storefront origins,
// de-duplicated by name.
func (s *Session) Cookies() []*http.Cookie {
	seen := map[string]bool{}
	var out []*http.Cookie
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		for _, c := range s.client.GetCookies(u) {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			out = append(out, c)
		}
	}
	return out
}

// LoadSignPairs ingests anti-bot tokens from configuration. Keys arrive as
// "<functionId>_h5st" / "<functionId>_t"; the map is keyed by lower-cased
// function id.
func (s *Session) LoadSignPairs(raw map[string]string) {
	for key, value := range raw {
		switch {
		case strings.HasSuffix(key, "_h5st"):
			fn := strings.ToLower(strings.TrimSuffix(key, "_h5st"))
			pair := s.signs[fn]
			pair.Signature = value
			s.signs[fn] = pair
		case strings.HasSuffix(key, "_t"):
			fn := strings.ToLower(strings.TrimSuffix(key, "_t"))
			pair := s.signs[fn]
			pair.Timestamp = value
			s.signs[fn] = pair
		}
	}
}

// SignPair returns the configured pair for a function id. A missing entry
// is not an error: the caller gets an empty signature and a fresh
// timestamp, which some endpoints accept off-peak.
func (s *Session) SignPair(functionID string) SignPair {
	pair, ok := s.signs[strings.ToLower(functionID)]
	if !ok || pair.Timestamp == "" {
		pair.Timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	return pair
}

// Probe issues an authenticated-only read without following redirects.
// 200 means the session is valid. A redirect usually means login is
// required, but some endpoints redirect even when authenticated, so one
// fallback check against the public home page runs before giving up.
func (s *Session) Probe() bool {
	req, err := http.NewRequest(http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	q := req.URL.Query()
	q.Set("rid", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.URL.RawQuery = q.Encode()
	req.Header = headers.Probe(s.UserAgent)

	resp, err := s.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("validity probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return true
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		log.Debug().
			Str("location", resp.Header.Get("Location")).
			Msg("probe redirected, checking home page for a signed-in marker")
		return s.probeHome()
	}
	log.Debug().Int("status", resp.StatusCode).Msg("probe rejected")
	return false
}

func (s *Session) probeHome() bool {
	req, err := http.NewRequest(http.MethodGet, homeURL, nil)
	if err != nil {
		return false
	}
	req.Header = headers.Probe(s.UserAgent)
	resp, err := s.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	return strings.Contains(string(body), signedInMark)
}

// Validate probes the session and, when the probe fails, drops and
// recreates the network client so no poisoned connection is reused.
func (s *Session) Validate() bool {
	if s.Probe() {
		return true
	}
	s.Reset()
	return false
}
