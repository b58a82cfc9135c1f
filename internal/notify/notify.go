// Package notify delivers a fire-and-forget push message when a purchase
// lands. Delivery failures are logged and never propagated.
package notify

import (
	"io"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/client"
)

const serverChanBase = "https://sctapi.ftqq.com/"

// Doer is the single-method client surface the sink needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServerChan pushes through the ServerChan relay to the account owner's
// phone.
type ServerChan struct {
	key string
	do  Doer
}

func NewServerChan(key string) *ServerChan {
	return &ServerChan{key: key}
}

func (s *ServerChan) Notify(title, message string) {
	if s.key == "" {
		return
	}
	if s.do == nil {
		c, err := client.New("")
		if err != nil {
			log.Warn().Err(err).Msg("notification client unavailable")
			return
		}
		s.do = c
	}

	req, err := http.NewRequest(http.MethodGet, serverChanBase+s.key+".send", nil)
	if err != nil {
		return
	}
	q := url.Values{}
	q.Set("title", title)
	q.Set("desp", message)
	req.URL.RawQuery = q.Encode()

	resp, err := s.do.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("push notification failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("push notification rejected")
		return
	}
	log.Info().Msg("push notification sent")
}
