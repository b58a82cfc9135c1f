package auth

import (
	"io"
	"math/rand"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/reply"
)

const (
	loginPageURL = "https://passport.jd.com/new/login.aspx"
	sendCodeURL  = "https://passport.jd.com/uc/login/sendMCode"
	loginSvcURL  = "https://passport.jd.com/uc/loginService"

	passportOrigin = "https://passport.jd.com"
	returnURL      = "https://www.jd.com/"
)

var codeSentClassifier = reply.Classifier{
	BoolPath: "success",
	CodePath: "code",
	CodeOK:   200,
	Markers:  []string{"发送成功", "已发送"},
}

var codeVerifiedClassifier = reply.Classifier{
	BoolPath: "success",
	Markers:  []string{"success", "成功"},
}

func (l *Login) bySMS(phone string) bool {
	if phone == "" {
		phone = l.phone
	}
	if phone == "" {
		log.Error().Msg("no phone number supplied or configured, cannot use SMS login")
		return false
	}

	guid, ok := l.loadSMSLoginPage()
	if !ok {
		return false
	}
	if !l.requestSMSCode(phone, guid) {
		return false
	}

	// The single user-interaction suspension point of the whole system.
	code, err := l.readCode()
	if err != nil || code == "" {
		log.Error().Err(err).Msg("no verification code entered")
		return false
	}

	if !l.verifySMSCode(phone, guid, code) {
		return false
	}

	l.sess.Authenticated = true
	l.store.Persist(l.sess)
	log.Info().Msg("SMS login succeeded")
	return true
}

// loadSMSLoginPage fetches the login page to seed guid/lsid. When the page
// does not hand them out via cookies, locally generated identifiers of the
// same shape are used; the remote service accepts self-issued ones for
// this flow.
func (l *Login) loadSMSLoginPage() (guid string, ok bool) {
	req, err := http.NewRequest(http.MethodGet, loginPageURL, nil)
	if err != nil {
		return "", false
	}
	req.Header = headers.LoginPage(l.sess.UserAgent)
	resp, err := l.sess.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("fetching the login page failed")
		return "", false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("login page rejected")
		return "", false
	}

	guid = l.sess.Cookie(passportOrigin, "guid")
	lsid := l.sess.Cookie(passportOrigin, "lsid")
	if guid != "" && lsid != "" {
		log.Debug().Msg("login page handed out guid and lsid")
		return guid, true
	}

	guid = randomDigits(16)
	lsid = uuid.NewString()
	l.sess.SetCookie(passportOrigin, "guid", guid)
	l.sess.SetCookie(passportOrigin, "lsid", lsid)
	log.Debug().Msg("login page gave no identifiers, using self-issued ones")
	return guid, true
}

func (l *Login) requestSMSCode(phone, guid string) bool {
	form := url.Values{}
	form.Set("phone", phone)
	form.Set("guid", guid)
	form.Set("appid", "133")
	form.Set("returnurl", returnURL)
	form.Set("serviceCode", "jd")
	form.Set("smsType", "sms")

	r, ok := l.postForm(sendCodeURL, form)
	if !ok {
		log.Error().Msg("code-request call failed")
		return false
	}
	if !codeSentClassifier.Ok(r) {
		log.Error().Str("reason", r.Message()).Msg("the storefront refused to send a code")
		return false
	}
	log.Info().Str("phone", phone).Msg("verification code sent")
	return true
}

func (l *Login) verifySMSCode(phone, guid, code string) bool {
	form := url.Values{}
	form.Set("uuid", guid)
	form.Set("phone", phone)
	form.Set("authcode", code)
	form.Set("authCodeMethod", "4")
	form.Set("loginType", "3")
	form.Set("returnurl", returnURL)
	form.Set("isVirtualKey", "1")
	form.Set("isVerify", "true")
	form.Set("isOauth", "false")
	form.Set("isResetName", "false")
	form.Set("slideAppId", "")
	form.Set("slideToken", "")

	r, ok := l.postForm(loginSvcURL, form)
	if !ok {
		log.Error().Msg("code-verify call failed")
		return false
	}
	if codeVerifiedClassifier.Ok(r) {
		return true
	}
	if r.Kind == reply.JSON {
		log.Error().Str("reason", r.Message()).Msg("code verification failed")
		return false
	}
	// Ambiguous body: fall back to probing whether the session became
	// valid anyway.
	if l.sess.Probe() {
		log.Warn().Msg("verification response was ambiguous but the session probes valid")
		return true
	}
	log.Error().Msg("code verification failed, check the code")
	return false
}

func (l *Login) postForm(rawurl string, form url.Values) (reply.Reply, bool) {
	req, err := http.NewRequest(http.MethodPost, rawurl, strings.NewReader(form.Encode()))
	if err != nil {
		return reply.Reply{}, false
	}
	req.Header = headers.PassportForm(l.sess.UserAgent)
	resp, err := l.sess.Do(req)
	if err != nil {
		return reply.Reply{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return reply.Reply{}, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply.Reply{}, false
	}
	return reply.Parse(body), true
}

func randomDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + rand.Intn(10))
	}
	return string(b)
}
