package checkout

import (
	"net/url"
	"strings"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"

	"github.com/wrenhold/jdbuyer/internal/item"
	"github.com/wrenhold/jdbuyer/internal/reply"
)

const checkoutPage = `<html><body><form>
<input id="riskControl" value="rc-1"/>
<input id="TrackID" value="track-1"/>
<input id="fp" value="fp-1"/>
<input id="eid" value="eid-1"/>
</form></body></html>`

const submitFailBusy = `{"success":false,"resultCode":600158,"message":"系统繁忙"}`
const submitOK = `{"success":true,"orderId":"287705389011"}`

// checkoutHandler scripts the whole non-presale flow: cart gateway,
// checkout page, then per-attempt submit replies.
func checkoutHandler(t *testing.T, submits *[]string) func(req *http.Request, form url.Values) (*http.Response, error) {
	return func(req *http.Request, form url.Values) (*http.Response, error) {
		switch {
		case req.URL.Host == "api.m.jd.com":
			if form.Get("functionId") == fnUncheck {
				return textResponse(http.StatusOK, emptyCartReply), nil
			}
			return textResponse(http.StatusOK, `{"success":true}`), nil
		case req.URL.Path == "/shopping/order/getOrderInfo.action":
			return textResponse(http.StatusOK, checkoutPage), nil
		case req.URL.Path == "/shopping/order/submitOrder.action":
			if len(*submits) == 0 {
				t.Fatal("more submit attempts than scripted replies")
			}
			body := (*submits)[0]
			*submits = (*submits)[1:]
			return textResponse(http.StatusOK, body), nil
		case req.URL.Path == "/shopping/dynamic/invoice/saveInvoice.action":
			return textResponse(http.StatusOK, `{"success":true}`), nil
		}
		return textResponse(http.StatusOK, ""), nil
	}
}

func TestLoadCheckoutContext(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		return textResponse(http.StatusOK, checkoutPage), nil
	})
	e := newTestEngine(t, fake)

	ctx := e.LoadCheckoutContext()
	if ctx == nil {
		t.Fatal("expected a context")
	}
	if ctx.RiskControl != "rc-1" || ctx.TrackID != "track-1" || ctx.Fingerprint != "fp-1" || ctx.EncryptedID != "eid-1" {
		t.Fatalf("ctx = %+v", ctx)
	}
}

func TestLoadCheckoutContextRetriesOn502(t *testing.T) {
	served := 0
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		served++
		if served == 1 {
			return textResponse(http.StatusBadGateway, ""), nil
		}
		return textResponse(http.StatusOK, checkoutPage), nil
	})
	e := newTestEngine(t, fake)

	if ctx := e.LoadCheckoutContext(); ctx == nil {
		t.Fatal("a single 502 must be absorbed by the extra attempt")
	}
	if served != 2 {
		t.Fatalf("fetched the page %d times, want 2", served)
	}
}

func TestLoadCheckoutContextLoginBounce(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		resp := textResponse(http.StatusFound, "")
		resp.Header.Set("Location", "https://passport.jd.com/new/login.aspx")
		return resp, nil
	})
	e := newTestEngine(t, fake)

	if ctx := e.LoadCheckoutContext(); ctx != nil {
		t.Fatal("a login bounce must yield no context")
	}
	if got := fake.countPath("/shopping/order/getOrderInfo.action"); got != 1+contextExtraAttempts {
		t.Fatalf("fetched %d times, want %d", got, 1+contextExtraAttempts)
	}
}

func TestTrySubmitOrderRetriesExactly(t *testing.T) {
	submits := []string{submitFailBusy, submitFailBusy, submitFailBusy}
	fake := newFakeClient(checkoutHandler(t, &submits))
	e := newTestEngine(t, fake)
	var sleeps []time.Duration
	e.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	snap := item.Snapshot{SkuID: "100012043978", VenderID: "0"}
	if e.TrySubmitOrder(snap, 1, "1_72_2799", 3, 5*time.Second) {
		t.Fatal("all attempts failed, the round must fail")
	}
	if got := fake.countPath("/shopping/order/submitOrder.action"); got != 3 {
		t.Fatalf("submitted %d times, want exactly 3", got)
	}
	// No sleep after the final attempt.
	if len(sleeps) != 2 {
		t.Fatalf("slept %d times, want 2", len(sleeps))
	}
}

func TestTrySubmitOrderStopsOnSuccess(t *testing.T) {
	submits := []string{submitFailBusy, submitOK, submitFailBusy}
	fake := newFakeClient(checkoutHandler(t, &submits))
	e := newTestEngine(t, fake)

	snap := item.Snapshot{SkuID: "100012043978", VenderID: "0"}
	if !e.TrySubmitOrder(snap, 1, "1_72_2799", 3, time.Second) {
		t.Fatal("the second attempt succeeded, the round must succeed")
	}
	if got := fake.countPath("/shopping/order/submitOrder.action"); got != 2 {
		t.Fatalf("submitted %d times, want 2", got)
	}
}

func TestTrySubmitOrderCartFailureSkipsSubmit(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		if req.URL.Host == "api.m.jd.com" {
			return textResponse(http.StatusOK, `{"success":false,"message":"无货"}`), nil
		}
		return textResponse(http.StatusOK, ""), nil
	})
	e := newTestEngine(t, fake)

	snap := item.Snapshot{SkuID: "100012043978", VenderID: "0"}
	if e.TrySubmitOrder(snap, 1, "1_72_2799", 3, time.Second) {
		t.Fatal("a failed cart preparation must fail the round")
	}
	if got := fake.countPath("/shopping/order/submitOrder.action"); got != 0 {
		t.Fatalf("submitted %d times after a cart failure, want 0", got)
	}
}

func TestTrySubmitOrderPresaleSkipsCart(t *testing.T) {
	submits := []string{submitOK}
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		switch req.URL.Path {
		case "/shopping/order/submitOrder.action":
			body := submits[0]
			submits = submits[1:]
			return textResponse(http.StatusOK, body), nil
		}
		return textResponse(http.StatusOK, "<html></html>"), nil
	})
	e := newTestEngine(t, fake)

	snap := item.Snapshot{SkuID: "100012043978", VenderID: "0", Presale: true}
	if !e.TrySubmitOrder(snap, 1, "1_72_2799", 1, time.Second) {
		t.Fatal("presale submission failed")
	}
	for _, c := range fake.calls {
		if c.req.URL.Host == "api.m.jd.com" {
			t.Fatal("the presale flow must never touch the cart gateway")
		}
	}
	for _, c := range fake.calls {
		if c.req.URL.Path == "/shopping/order/submitOrder.action" {
			if c.form.Get("submitOrderParam.payType4YuShou") != "2" {
				t.Fatalf("presale submit is missing its payment flags: %v", c.form)
			}
		}
	}
}

func TestSubmitInvoiceSwitchOncePerCodeZero(t *testing.T) {
	submits := []string{
		`{"success":false,"resultCode":0,"message":"无效请求"}`,
		submitOK,
	}
	fake := newFakeClient(checkoutHandler(t, &submits))
	e := newTestEngine(t, fake)

	snap := item.Snapshot{SkuID: "100012043978", VenderID: "0"}
	if !e.TrySubmitOrder(snap, 1, "1_72_2799", 3, time.Second) {
		t.Fatal("the retry after the invoice switch succeeded, the round must succeed")
	}
	if got := fake.countPath("/shopping/dynamic/invoice/saveInvoice.action"); got != 1 {
		t.Fatalf("switched the invoice %d times, want exactly 1", got)
	}
}

func TestDecodeSubmitReply(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		return textResponse(http.StatusOK, ""), nil
	})
	e := newTestEngine(t, fake)

	tests := []struct {
		name   string
		body   string
		ok     bool
		result string
	}{
		{"json success", submitOK, true, "287705389011"},
		{"text success with id", "提交订单成功，订单号：12345678901", true, "12345678901"},
		{"text success without id", "下单成功", true, "unknown"},
		{"text failure", "系统繁忙，请稍后再试", false, "系统繁忙，请稍后再试"},
		{"empty body", "", false, "empty submit response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, result := e.decodeSubmitReply(reply.Parse([]byte(tt.body)))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if result != tt.result {
				t.Fatalf("result = %q, want %q", result, tt.result)
			}
		})
	}
}

func TestDecodeSubmitReplyAnnotations(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		return textResponse(http.StatusOK, ""), nil
	})
	e := newTestEngine(t, fake)

	ok, result := e.decodeSubmitReply(reply.Parse([]byte(`{"success":false,"resultCode":60077,"message":"购物车为空"}`)))
	if ok || !strings.Contains(result, "cart is empty") {
		t.Fatalf("60077 annotation missing: %q", result)
	}
	ok, result = e.decodeSubmitReply(reply.Parse([]byte(`{"success":false,"resultCode":60123,"message":"需要支付密码"}`)))
	if ok || !strings.Contains(result, "payment password") {
		t.Fatalf("60123 annotation missing: %q", result)
	}
}

func TestSubmitCarriesTokens(t *testing.T) {
	fake := newFakeClient(func(req *http.Request, form url.Values) (*http.Response, error) {
		return textResponse(http.StatusOK, submitOK), nil
	})
	e := newTestEngine(t, fake)

	ctx := &Context{RiskControl: "rc-9", TrackID: "track-9", Fingerprint: "fp-9", EncryptedID: "eid-9"}
	ok, _ := e.Submit(ctx, false)
	if !ok {
		t.Fatal("Submit failed")
	}
	form := fake.calls[len(fake.calls)-1].form
	if form.Get("riskControl") != "rc-9" {
		t.Fatalf("riskControl = %q", form.Get("riskControl"))
	}
	if form.Get("submitOrderParam.trackId") != "track-9" {
		t.Fatalf("trackId = %q", form.Get("submitOrderParam.trackId"))
	}
	if form.Get("submitOrderParam.eid") != "eid-9" || form.Get("submitOrderParam.fp") != "fp-9" {
		t.Fatalf("eid/fp missing: %v", form)
	}
	if form.Get("submitOrderParam.payPassword") != "" {
		t.Fatal("no payment password was configured, none must be sent")
	}
}

func TestObfuscatePassword(t *testing.T) {
	if got := obfuscatePassword("123456"); got != "u31u32u33u34u35u36" {
		t.Fatalf("obfuscatePassword = %q", got)
	}
	if got := obfuscatePassword(""); got != "" {
		t.Fatalf("empty password must stay empty, got %q", got)
	}
}
