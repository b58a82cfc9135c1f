package checkout

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/reply"
)

const (
	cartAPIURL  = "https://api.m.jd.com/api"
	cartAppID   = "JDC_mall_cart"
	fnUncheck   = "pcCart_jc_cartUnCheckAll"
	fnAdd       = "pcCart_jc_cartAdd"
	fnChangeNum = "pcCart_jc_changeSkuNum"
)

// cartLine is the remote cart's view of the target sku: present or not,
// and under which per-line correlation id.
type cartLine struct {
	found   bool
	skuUUID string
}

// PrepareCart gets the remote cart into a single-line state for the
// target sku: everything else unselected, the sku present with the wanted
// quantity. An unreadable or failed uncheck is tolerated — an empty cart
// is equivalent to nothing to unselect.
func (e *Engine) PrepareCart(sku string, qty int, areaID string) bool {
	r, err := e.uncheckAll()
	if err != nil {
		log.Warn().Err(err).Msg("cart uncheck call failed, proceeding as if empty")
		return e.addLine(sku, qty)
	}
	if r.Kind != reply.JSON || !r.JSON.Get("success").Bool() {
		log.Warn().Str("reason", r.Message()).Msg("cart uncheck reported failure, proceeding as if empty")
		return e.addLine(sku, qty)
	}

	line := findCartLine(r.JSON, sku)
	if !line.found || line.skuUUID == "" {
		return e.addLine(sku, qty)
	}
	return e.updateLine(sku, line.skuUUID, qty, areaID)
}

// findCartLine walks the vendors/sorted structure the uncheck call echoes
// back, looking for the sku and its line id.
func findCartLine(root gjson.Result, sku string) cartLine {
	var line cartLine
	root.Get("resultData.cartInfo.vendors").ForEach(func(_, vendor gjson.Result) bool {
		vendor.Get("sorted").ForEach(func(_, entry gjson.Result) bool {
			item := entry.Get("item")
			if item.Get("Id").String() == sku {
				line = cartLine{found: true, skuUUID: item.Get("skuUuid").String()}
				return false
			}
			return true
		})
		return !line.found
	})
	return line
}

func (e *Engine) uncheckAll() (reply.Reply, error) {
	body := `{"serInfo":{"area":"","user-key":""}}`
	return e.callCartAPI(fnUncheck, body)
}

type cartSku struct {
	ID      string `json:"Id"`
	Num     int    `json:"num"`
	SkuUUID string `json:"skuUuid,omitempty"`
	UseUUID *bool  `json:"useUuid,omitempty"`
}

type cartOperation struct {
	CartType int       `json:"carttype,omitempty"`
	TheSkus  []cartSku `json:"TheSkus"`
}

type cartBody struct {
	Operations []cartOperation `json:"operations"`
	SerInfo    map[string]any  `json:"serInfo,omitempty"`
}

func (e *Engine) addLine(sku string, qty int) bool {
	payload, err := json.Marshal(cartBody{
		Operations: []cartOperation{{CartType: 1, TheSkus: []cartSku{{ID: sku, Num: qty}}}},
	})
	if err != nil {
		return false
	}
	r, err := e.callCartAPI(fnAdd, string(payload))
	if err != nil {
		log.Warn().Err(err).Str("sku", sku).Msg("adding to cart failed")
		return false
	}
	ok := r.Kind == reply.JSON && r.JSON.Get("success").Bool()
	if !ok {
		log.Warn().Str("sku", sku).Str("reason", r.Message()).Msg("cart add rejected")
	}
	return ok
}

func (e *Engine) updateLine(sku, skuUUID string, qty int, areaID string) bool {
	useUUID := false
	payload, err := json.Marshal(cartBody{
		Operations: []cartOperation{{TheSkus: []cartSku{{ID: sku, Num: qty, SkuUUID: skuUUID, UseUUID: &useUUID}}}},
		SerInfo:    map[string]any{"area": areaID},
	})
	if err != nil {
		return false
	}
	r, err := e.callCartAPI(fnChangeNum, string(payload))
	if err != nil {
		log.Warn().Err(err).Str("sku", sku).Msg("updating cart quantity failed")
		return false
	}
	ok := r.Kind == reply.JSON && r.JSON.Get("success").Bool()
	if !ok {
		log.Warn().Str("sku", sku).Str("reason", r.Message()).Msg("cart quantity update rejected")
	}
	return ok
}

// callCartAPI posts one function call to the api gateway, attaching the
// anti-bot signature pair for the function when one is configured.
func (e *Engine) callCartAPI(functionID, body string) (reply.Reply, error) {
	form := url.Values{}
	form.Set("functionId", functionID)
	form.Set("appid", cartAppID)
	form.Set("body", body)
	form.Set("loginType", "3")

	pair := e.sess.SignPair(functionID)
	if pair.Signature != "" {
		form.Set("h5st", pair.Signature)
	}
	form.Set("t", pair.Timestamp)

	req, err := http.NewRequest(http.MethodPost, cartAPIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return reply.Reply{}, err
	}
	req.Header = headers.CartAPI(e.sess.UserAgent)

	resp, err := e.sess.Do(req)
	if err != nil {
		return reply.Reply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return reply.Reply{}, &statusError{resp.StatusCode}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply.Reply{}, err
	}
	return reply.Parse(raw), nil
}
