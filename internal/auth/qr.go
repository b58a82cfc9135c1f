package auth

import (
	"io"
	"math/rand"
	"strconv"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/reply"
)

const (
	qrShowURL     = "https://qr.m.jd.com/show"
	qrCheckURL    = "https://qr.m.jd.com/check"
	qrValidateURL = "https://passport.jd.com/uc/qrCodeTicketValidation"
	qrAppID       = "133"
	qrImageSize   = "147"

	// wlfstk_smdl is issued alongside the QR image and must be echoed back
	// on every poll.
	qrTokenCookie = "wlfstk_smdl"

	qrPollInterval = 2 * time.Second
	qrMaxAttempts  = 60

	// Grace window after the viewer is closed, covering the race where the
	// user scans and then closes the window before the poll sees the
	// ticket. Best-effort only: the remote side gives no guarantee the
	// ticket outlives the window.
	qrClosedGrace = 3 * time.Second

	qrCodeScanned = 200
	qrCodePending = 201
)

// Phrases the check endpoint uses for a QR code that can no longer be
// scanned. Any of them ends the poll.
var qrDeadMarkers = []string{
	"二维码已取消授权",
	"二维码已过期",
	"二维码已失效",
}

func (l *Login) byQR() bool {
	png, err := l.fetchQRImage()
	if err != nil {
		log.Error().Err(err).Msg("fetching the QR image failed")
		return false
	}
	if err := l.viewer.Display(png); err != nil {
		log.Warn().Err(err).Msg("could not present the QR image, scan the saved file instead")
	}
	defer l.viewer.Close()
	log.Info().Msg("scan the QR code with the store app")

	ticket, ok := l.pollTicket()
	if !ok {
		return false
	}
	if !l.validateTicket(ticket) {
		return false
	}

	l.sess.Authenticated = true
	l.store.Persist(l.sess)
	if !l.sess.Probe() {
		// Sanity check only; the ticket exchange already succeeded.
		log.Warn().Msg("validity probe disagrees with the ticket validation")
	}
	log.Info().Msg("QR login succeeded")
	return true
}

func (l *Login) fetchQRImage() (png []byte, err error) {
	req, err := http.NewRequest(http.MethodGet, qrShowURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("appid", qrAppID)
	q.Set("size", qrImageSize)
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.URL.RawQuery = q.Encode()
	req.Header = headers.Passport(l.sess.UserAgent)

	resp, err := l.sess.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "unexpected status " + strconv.Itoa(e.code) }

// pollTicket runs the ticket poll until a terminal state: scanned,
// expired, viewer closed past its grace window, or attempts exhausted.
func (l *Login) pollTicket() (string, bool) {
	for attempt := 0; attempt < qrMaxAttempts; attempt++ {
		ticket, code, msg := l.checkQRStatus()
		if ticket != "" {
			log.Info().Msg("QR code scanned, validating the ticket")
			return ticket, true
		}
		if r := (reply.Reply{Text: msg}); r.Contains(qrDeadMarkers...) {
			log.Error().Str("status", msg).Msg("QR code can no longer be used, request a new one")
			return "", false
		}
		if !l.viewer.IsOpen() {
			return l.closedGraceTicket()
		}
		log.Debug().Int("code", code).Str("status", msg).Msg("QR code not scanned yet")
		l.sleep(qrPollInterval)
	}
	log.Error().Int("attempts", qrMaxAttempts).Msg("QR code was never scanned, giving up")
	return "", false
}

// closedGraceTicket gives a just-closed viewer a short window in which a
// ticket may still arrive.
func (l *Login) closedGraceTicket() (string, bool) {
	log.Warn().Dur("grace", qrClosedGrace).Msg("QR viewer closed, waiting briefly for a late ticket")
	for waited := time.Duration(0); waited < qrClosedGrace; waited += qrPollInterval {
		l.sleep(qrPollInterval)
		if ticket, _, _ := l.checkQRStatus(); ticket != "" {
			return ticket, true
		}
	}
	log.Error().Msg("QR viewer closed before a ticket arrived")
	return "", false
}

// checkQRStatus polls the scan state once. The endpoint answers JSONP.
func (l *Login) checkQRStatus() (ticket string, code int, msg string) {
	req, err := http.NewRequest(http.MethodGet, qrCheckURL, nil)
	if err != nil {
		return "", -1, err.Error()
	}
	q := req.URL.Query()
	q.Set("appid", qrAppID)
	q.Set("callback", "jQuery"+strconv.Itoa(1000000+rand.Intn(9000000)))
	q.Set("token", l.sess.Cookie("https://qr.m.jd.com", qrTokenCookie))
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.URL.RawQuery = q.Encode()
	req.Header = headers.Passport(l.sess.UserAgent)

	resp, err := l.sess.Do(req)
	if err != nil {
		return "", -1, "request failed: " + err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", -1, "unexpected status " + strconv.Itoa(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", -1, "reading body failed"
	}

	r := reply.Parse(body)
	if r.Kind != reply.JSON {
		return "", -1, r.Text
	}
	code = int(r.JSON.Get("code").Int())
	msg = r.JSON.Get("msg").String()
	if code == qrCodeScanned {
		return r.JSON.Get("ticket").String(), code, msg
	}
	return "", code, msg
}

// validateTicket exchanges the one-time ticket for a confirmed login.
func (l *Login) validateTicket(ticket string) bool {
	req, err := http.NewRequest(http.MethodGet, qrValidateURL, nil)
	if err != nil {
		return false
	}
	q := req.URL.Query()
	q.Set("t", ticket)
	req.URL.RawQuery = q.Encode()
	req.Header = headers.TicketValidation(l.sess.UserAgent)

	resp, err := l.sess.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("ticket validation request failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("ticket validation rejected")
		return false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	r := reply.Parse(body)
	if r.Kind != reply.JSON || r.JSON.Get("returnCode").Int() != 0 {
		log.Error().Str("reason", r.Message()).Msg("ticket validation failed")
		return false
	}
	return true
}
