package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"
)

// Store persists session cookies between runs and seeds them from
// configuration. Cookie blobs live as JSON under <dir>/cookies/.
type Store struct {
	dir     string
	account string
	seed    string // pre-provisioned cookie string from configuration
}

var ErrNoCredentials = errors.New("no stored credentials")

// Browser cookie strings shorter than this cannot possibly carry a
// usable session and are ignored.
const minSeedLen = 10

func NewStore(dir, account, seed string) *Store {
	if account == "" {
		account = "jd"
	}
	return &Store{dir: dir, account: account, seed: seed}
}

func (st *Store) path() string {
	return filepath.Join(st.dir, "cookies", st.account+".cookies")
}

type storedCookie struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Domain  string `json:"domain,omitempty"`
	Path    string `json:"path,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

// Load populates the session from the first source that parses: the
// configured cookie string, then the persisted cookie file.
func (st *Store) Load(s *Session) error {
	if len(st.seed) >= minSeedLen {
		if n := s.ImportCookieString(st.seed); n > 0 {
			log.Info().Int("cookies", n).Msg("loaded cookies from configuration")
			return nil
		}
		log.Warn().Msg("configured cookie string did not parse")
	}

	data, err := os.ReadFile(st.path())
	if err != nil {
		return ErrNoCredentials
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Warn().Err(err).Str("path", st.path()).Msg("cookie file is corrupt")
		return ErrNoCredentials
	}
	if len(stored) == 0 {
		return ErrNoCredentials
	}

	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookie := &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(c.Expires, 0)
		}
		cookies = append(cookies, cookie)
	}
	s.ImportCookies(cookies)
	log.Info().Int("cookies", len(cookies)).Str("path", st.path()).Msg("loaded cookies from file")
	return nil
}

// Persist writes the session's cookie set to disk. It is a side effect
// only: failures are logged and never surfaced to the caller.
func (st *Store) Persist(s *Session) {
	cookies := s.Cookies()
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		sc := storedCookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if !c.Expires.IsZero() {
			sc.Expires = c.Expires.Unix()
		}
		stored = append(stored, sc)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("encoding cookies failed, not persisting")
		return
	}
	if err := os.MkdirAll(filepath.Dir(st.path()), 0700); err != nil {
		log.Warn().Err(err).Msg("creating cookie dir failed, not persisting")
		return
	}
	if err := os.WriteFile(st.path(), data, 0600); err != nil {
		log.Warn().Err(err).Str("path", st.path()).Msg("writing cookie file failed")
		return
	}
	log.Info().Int("cookies", len(stored)).Msg("session cookies persisted")
}
