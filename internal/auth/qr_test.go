package auth

import (
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"

	"github.com/wrenhold/jdbuyer/internal/session"
)

type fakeClient struct {
	handler  func(req *http.Request) (*http.Response, error)
	jar      map[string]map[string]string
	requests []*http.Request
}

func newFakeClient(handler func(req *http.Request) (*http.Response, error)) *fakeClient {
	return &fakeClient{handler: handler, jar: map[string]map[string]string{}}
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.handler == nil {
		return textResponse(http.StatusOK, ""), nil
	}
	return f.handler(req)
}

func (f *fakeClient) GetCookies(u *url.URL) []*http.Cookie {
	var out []*http.Cookie
	for name, value := range f.jar[u.Host] {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

func (f *fakeClient) SetCookies(u *url.URL, cookies []*http.Cookie) {
	m := f.jar[u.Host]
	if m == nil {
		m = map[string]string{}
		f.jar[u.Host] = m
	}
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
}

func (f *fakeClient) countPath(path string) int {
	n := 0
	for _, req := range f.requests {
		if req.URL.Path == path {
			n++
		}
	}
	return n
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type fakeViewer struct {
	open      bool
	displayed int
	closed    bool
}

func (v *fakeViewer) Display([]byte) error { v.displayed++; return nil }
func (v *fakeViewer) IsOpen() bool         { return v.open }
func (v *fakeViewer) Close()               { v.closed = true }

func newTestLogin(t *testing.T, fake *fakeClient, viewer Viewer) (*Login, *session.Session) {
	t.Helper()
	sess, err := session.New("", func() (session.HTTPClient, error) { return fake, nil })
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	store := session.NewStore(t.TempDir(), "", "")
	l := New(sess, store,
		WithViewer(viewer),
		withSleep(func(time.Duration) {}),
	)
	return l, sess
}

func TestLoginIdempotent(t *testing.T) {
	fake := newFakeClient(nil)
	l, sess := newTestLogin(t, fake, &fakeViewer{open: true})
	sess.Authenticated = true

	if !l.Login(KindQR, "") {
		t.Fatal("an authenticated session must short-circuit to success")
	}
	if len(fake.requests) != 0 {
		t.Fatalf("made %d requests, want none", len(fake.requests))
	}
}

func TestQRHappyPath(t *testing.T) {
	checks := 0
	fake := newFakeClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/show":
			return textResponse(http.StatusOK, "fake png bytes"), nil
		case "/check":
			checks++
			if checks < 3 {
				return textResponse(http.StatusOK, `jQuery123({"code":201,"msg":"未扫描"})`), nil
			}
			return textResponse(http.StatusOK, `jQuery123({"code":200,"ticket":"TICKET-1"})`), nil
		case "/uc/qrCodeTicketValidation":
			return textResponse(http.StatusOK, `{"returnCode":0}`), nil
		default:
			return textResponse(http.StatusOK, "order list"), nil
		}
	})
	viewer := &fakeViewer{open: true}
	l, sess := newTestLogin(t, fake, viewer)

	if !l.Login(KindQR, "") {
		t.Fatal("login failed")
	}
	if !sess.Authenticated {
		t.Fatal("session must be authenticated after the ticket validates")
	}
	if viewer.displayed != 1 {
		t.Fatalf("displayed the code %d times, want once", viewer.displayed)
	}
	if !viewer.closed {
		t.Fatal("the viewer must be closed when the flow ends")
	}
	if got := fake.countPath("/uc/qrCodeTicketValidation"); got != 1 {
		t.Fatalf("validated %d times, want once", got)
	}
}

func TestQRPollGivesUp(t *testing.T) {
	fake := newFakeClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/show" {
			return textResponse(http.StatusOK, "fake png bytes"), nil
		}
		return textResponse(http.StatusOK, `jQuery123({"code":201,"msg":"未扫描"})`), nil
	})
	l, sess := newTestLogin(t, fake, &fakeViewer{open: true})

	if l.Login(KindQR, "") {
		t.Fatal("a never-scanned code must fail")
	}
	if sess.Authenticated {
		t.Fatal("session must stay unauthenticated")
	}
	if got := fake.countPath("/check"); got != qrMaxAttempts {
		t.Fatalf("polled %d times, want exactly %d", got, qrMaxAttempts)
	}
}

func TestQRDeadCodeStopsPolling(t *testing.T) {
	fake := newFakeClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/show" {
			return textResponse(http.StatusOK, "fake png bytes"), nil
		}
		return textResponse(http.StatusOK, `jQuery123({"code":257,"msg":"二维码已过期"})`), nil
	})
	l, _ := newTestLogin(t, fake, &fakeViewer{open: true})

	if l.Login(KindQR, "") {
		t.Fatal("an expired code must fail")
	}
	if got := fake.countPath("/check"); got != 1 {
		t.Fatalf("polled %d times after the code died, want 1", got)
	}
}

func TestQRClosedViewerGraceWindow(t *testing.T) {
	checks := 0
	fake := newFakeClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/show":
			return textResponse(http.StatusOK, "fake png bytes"), nil
		case "/check":
			checks++
			if checks < 2 {
				return textResponse(http.StatusOK, `jQuery123({"code":201,"msg":"未扫描"})`), nil
			}
			return textResponse(http.StatusOK, `jQuery123({"code":200,"ticket":"TICKET-2"})`), nil
		case "/uc/qrCodeTicketValidation":
			return textResponse(http.StatusOK, `{"returnCode":0}`), nil
		default:
			return textResponse(http.StatusOK, "order list"), nil
		}
	})
	// Viewer closed from the start: the first pending poll trips the grace
	// window, where the late ticket is still picked up.
	l, sess := newTestLogin(t, fake, &fakeViewer{open: false})

	if !l.Login(KindQR, "") {
		t.Fatal("a ticket arriving inside the grace window must still win")
	}
	if !sess.Authenticated {
		t.Fatal("session must be authenticated")
	}
}

func TestQRValidationRejected(t *testing.T) {
	fake := newFakeClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/show":
			return textResponse(http.StatusOK, "fake png bytes"), nil
		case "/check":
			return textResponse(http.StatusOK, `jQuery123({"code":200,"ticket":"TICKET-3"})`), nil
		default:
			return textResponse(http.StatusOK, `{"returnCode":-1,"message":"票据无效"}`), nil
		}
	})
	l, sess := newTestLogin(t, fake, &fakeViewer{open: true})

	if l.Login(KindQR, "") {
		t.Fatal("a rejected ticket must fail the login")
	}
	if sess.Authenticated {
		t.Fatal("session must stay unauthenticated")
	}
}
