// Package item resolves a product to its purchase metadata and answers the
// volatile "is it buyable right now" question. Both reads are advisory:
// any network or parse failure degrades to a conservative default instead
// of propagating.
package item

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/session"
)

const itemPageURL = "https://item.jd.com/"

// Marker phrases and affordances on the product detail page.
const (
	markerOutOfStock = "无货"
	markerInStock    = "现货"
	markerPresale    = "预售"
	markerFlashSale  = "秒杀"

	selStockPrompt  = "div.store-prompt"
	selActivityNote = "div.activity-message span"
	selAddToCart    = "a#InitCartUrl"
	selShopLink     = "div[class*='shopName'] div.name a"
	selPriceWrap    = "div[class*='summary-price-wrap'] span"
)

const defaultFlashWindow = time.Hour

// Snapshot is per-product purchase metadata, computed on first inspection
// and cached for the lifetime of the watch.
type Snapshot struct {
	SkuID      string
	VenderID   string
	Presale    bool
	PresaleURL string
	FlashSale  bool
	FlashStart int64 // unix milliseconds
	FlashEnd   int64
}

type Inspector struct {
	sess      *session.Session
	snapshots map[string]Snapshot
}

func NewInspector(sess *session.Session) *Inspector {
	return &Inspector{sess: sess, snapshots: map[string]Snapshot{}}
}

// Inspect fetches the product detail page once and extracts the merchant
// id plus presale/flash-sale flags. Failures of any kind yield a default
// snapshot; inspection never errors.
func (i *Inspector) Inspect(sku string) Snapshot {
	if snap, ok := i.snapshots[sku]; ok {
		return snap
	}

	snap := Snapshot{SkuID: sku, VenderID: "0"}
	doc, err := i.fetchItemPage(sku)
	if err != nil {
		log.Warn().Err(err).Str("sku", sku).Msg("item inspection failed, using defaults")
		i.snapshots[sku] = snap
		return snap
	}

	if id, ok := doc.Find(selShopLink).First().Attr("data-shopid"); ok && id != "" {
		snap.VenderID = id
	} else {
		log.Debug().Str("sku", sku).Msg("no merchant id on the page, defaulting to 0")
	}

	if textPresent(doc, selPriceWrap, markerPresale) {
		snap.Presale = true
		snap.PresaleURL = itemPageURL + sku + ".html"
		log.Info().Str("sku", sku).Msg("presale item")
	}
	if textPresent(doc, selPriceWrap, markerFlashSale) {
		// The page hides the actual window; assume it opened now and runs
		// for an hour.
		snap.FlashSale = true
		snap.FlashStart = time.Now().UnixMilli()
		snap.FlashEnd = time.Now().Add(defaultFlashWindow).UnixMilli()
		log.Info().Str("sku", sku).Msg("flash-sale item")
	}

	log.Info().Str("sku", sku).Str("vender", snap.VenderID).Msg("item inspected")
	i.snapshots[sku] = snap
	return snap
}

// CheckStock re-fetches the detail page (stock is volatile, never cached)
// and classifies it. Any failure means "not yet available".
func (i *Inspector) CheckStock(sku string, qty int, areaID string) bool {
	_ = qty // quantity does not influence the page-level verdict

	if areaID != "" {
		// Stock is regional; the page reads the area from this cookie.
		i.sess.SetCookie("https://item.jd.com", "ipLoc-djd", strings.ReplaceAll(areaID, "_", "-"))
	}

	doc, err := i.fetchItemPage(sku)
	if err != nil {
		log.Debug().Err(err).Str("sku", sku).Msg("stock check failed, treating as no stock")
		return false
	}

	if strings.Contains(doc.Find(selStockPrompt).First().Text(), markerOutOfStock) {
		return false
	}
	if textPresent(doc, selActivityNote, markerInStock) {
		return true
	}
	return doc.Find(selAddToCart).Length() > 0
}

func (i *Inspector) fetchItemPage(sku string) (*goquery.Document, error) {
	req, err := http.NewRequest(http.MethodGet, itemPageURL+sku+".html", nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Item(i.sess.UserAgent)

	resp, err := i.sess.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func textPresent(doc *goquery.Document, selector, marker string) bool {
	found := false
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), marker) {
			found = true
			return false
		}
		return true
	})
	return found
}
