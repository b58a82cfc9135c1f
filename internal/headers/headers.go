// Package headers builds the request headers expected by each endpoint
// family of the storefront. The anti-bot layer scores header order as well
// as content, so every builder pins the order explicitly.
package headers

import (
	http "github.com/bogdanfinn/fhttp"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

const (
	loginReferer    = "https://passport.jd.com/new/login.aspx"
	logoutReferer   = "https://passport.jd.com/uc/login?ltype=logout"
	homeReferer     = "https://www.jd.com/"
	cartOrigin      = "https://cart.jd.com"
	passportOrigin  = "https://passport.jd.com"
	cartReferer     = "https://cart.jd.com/cart"
	checkoutReferer = "http://trade.jd.com/shopping/order/getOrderInfo.action"
	formContentType = "application/x-www-form-urlencoded"
)

var order = []string{
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"User-Agent",
	"Content-Type",
	"Origin",
	"Referer",
	"Connection",
}

func base(ua string) http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("User-Agent", ua)
	h[http.HeaderOrderKey] = order
	return h
}

// Passport covers the QR endpoints: image fetch and ticket polling.
func Passport(ua string) http.Header {
	h := base(ua)
	h.Set("Referer", loginReferer)
	return h
}

// TicketValidation is the one-shot ticket exchange after a scan.
func TicketValidation(ua string) http.Header {
	h := base(ua)
	h.Set("Referer", logoutReferer)
	return h
}

// PassportForm covers the SMS code-request and code-verify POSTs.
func PassportForm(ua string) http.Header {
	h := base(ua)
	h.Set("Content-Type", formContentType)
	h.Set("Origin", passportOrigin)
	h.Set("Referer", loginReferer)
	return h
}

// LoginPage is the initial login page fetch that seeds session cookies.
func LoginPage(ua string) http.Header {
	h := base(ua)
	h.Set("Connection", "Keep-Alive")
	h.Set("Referer", homeReferer)
	return h
}

// Item covers product detail pages (inspection and stock checks).
func Item(ua string) http.Header {
	h := base(ua)
	h.Set("Referer", homeReferer)
	return h
}

// CartAPI covers the pcCart function calls on the api gateway.
func CartAPI(ua string) http.Header {
	h := base(ua)
	h.Set("Content-Type", formContentType)
	h.Set("Origin", cartOrigin)
	h.Set("Referer", cartOrigin)
	return h
}

// Checkout is the order settlement page carrying the one-time tokens.
func Checkout(ua string) http.Header {
	h := base(ua)
	h.Set("Referer", cartReferer)
	return h
}

// Submit is the order submission POST.
func Submit(ua string) http.Header {
	h := base(ua)
	h.Set("Content-Type", formContentType)
	h.Set("Referer", checkoutReferer)
	return h
}

// Invoice is the invoice-switch fallback POST.
func Invoice(ua string) http.Header {
	h := base(ua)
	h.Set("Content-Type", formContentType)
	h.Set("Referer", "https://trade.jd.com/shopping/dynamic/invoice/saveInvoice.action")
	return h
}

// Probe is the authenticated-only read used by the validity check.
func Probe(ua string) http.Header {
	return base(ua)
}
