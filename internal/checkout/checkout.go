// Package checkout prepares the cart, harvests the checkout page's
// one-time tokens, and submits the order under a bounded retry policy,
// decoding the storefront's result codes into actionable reasons.
package checkout

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/item"
	"github.com/wrenhold/jdbuyer/internal/session"
)

const (
	checkoutPageURL = "https://trade.jd.com/shopping/order/getOrderInfo.action"
	itemPageURL     = "https://item.jd.com/"

	// One extra attempt when the checkout page comes back unusable.
	contextExtraAttempts = 1
)

// Context is the per-submission-attempt bundle of one-time tokens scraped
// from the checkout page. It proves continuity of one browsing session to
// the risk-control layer and must be refreshed before each attempt group.
type Context struct {
	RiskControl string
	TrackID     string
	Fingerprint string // fp
	EncryptedID string // eid
}

type Engine struct {
	sess        *session.Session
	payPassword string
	sleep       func(time.Duration)
}

func NewEngine(sess *session.Session, payPassword string) *Engine {
	return &Engine{sess: sess, payPassword: payPassword, sleep: time.Sleep}
}

// LoadCheckoutContext fetches the checkout page and extracts the one-time
// tokens. The three known failure shapes — bounced to login, bounced back
// to the cart, upstream 502 — are each logged with enough context to
// diagnose; none raises.
func (e *Engine) LoadCheckoutContext() *Context {
	for attempt := 0; attempt <= contextExtraAttempts; attempt++ {
		if ctx := e.fetchCheckoutPage(); ctx != nil {
			return ctx
		}
	}
	return nil
}

func (e *Engine) fetchCheckoutPage() *Context {
	req, err := http.NewRequest(http.MethodGet, checkoutPageURL, nil)
	if err != nil {
		return nil
	}
	q := req.URL.Query()
	q.Set("rid", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.URL.RawQuery = q.Encode()
	req.Header = headers.Checkout(e.sess.UserAgent)

	resp, err := e.sess.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("checkout page request failed")
		return nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadGateway:
		io.Copy(io.Discard, resp.Body)
		log.Warn().Msg("checkout page answered 502, upstream is struggling")
		return nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		io.Copy(io.Discard, resp.Body)
		loc := resp.Header.Get("Location")
		switch {
		case strings.Contains(loc, "passport") || strings.Contains(loc, "login"):
			log.Warn().Str("location", loc).Msg("checkout bounced to login, session looks invalid")
		case strings.Contains(loc, "cart"):
			log.Warn().Str("location", loc).Msg("checkout bounced back to the cart, nothing is selected")
		default:
			log.Warn().Str("location", loc).Msg("checkout redirected somewhere unexpected")
		}
		return nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		log.Warn().Int("status", resp.StatusCode).Msg("checkout page rejected")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("checkout page did not parse")
		return nil
	}

	ctx := &Context{
		RiskControl: doc.Find("input#riskControl").AttrOr("value", ""),
		TrackID:     doc.Find("input#TrackID").AttrOr("value", ""),
		Fingerprint: doc.Find("input#fp").AttrOr("value", ""),
		EncryptedID: doc.Find("input#eid").AttrOr("value", ""),
	}
	log.Debug().
		Bool("risk_control", ctx.RiskControl != "").
		Bool("track_id", ctx.TrackID != "").
		Msg("checkout tokens harvested")
	return ctx
}

// loadPresaleContext sources the checkout context from the item detail
// page instead: the presale flow never touches the cart, and the page
// carries no token inputs, so the tokens stay empty.
func (e *Engine) loadPresaleContext(sku string) *Context {
	req, err := http.NewRequest(http.MethodGet, itemPageURL+sku+".html", nil)
	if err != nil {
		return &Context{}
	}
	req.Header = headers.Item(e.sess.UserAgent)
	resp, err := e.sess.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("presale checkout page request failed")
		return &Context{}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return &Context{}
}

// TrySubmitOrder runs the full checkout for one stock hit: cart or
// presale preparation, one context load, then up to retries submissions
// with a fixed sleep between attempts.
func (e *Engine) TrySubmitOrder(snap item.Snapshot, qty int, areaID string, retries int, interval time.Duration) bool {
	var ctx *Context
	if snap.Presale {
		ctx = e.loadPresaleContext(snap.SkuID)
	} else {
		if !e.PrepareCart(snap.SkuID, qty, areaID) {
			log.Warn().Str("sku", snap.SkuID).Msg("cart preparation failed, back to watching")
			return false
		}
		ctx = e.LoadCheckoutContext()
		if ctx == nil {
			log.Warn().Msg("no checkout context, submitting without tokens")
			ctx = &Context{}
		}
	}

	for attempt := 1; attempt <= retries; attempt++ {
		ok, result := e.Submit(ctx, snap.Presale)
		if ok {
			log.Info().Str("order_id", result).Msg("order submitted")
			return true
		}
		log.Warn().
			Int("attempt", attempt).
			Int("retries", retries).
			Str("reason", result).
			Msg("order submission failed")
		if attempt < retries {
			e.sleep(interval)
		}
	}
	return false
}
