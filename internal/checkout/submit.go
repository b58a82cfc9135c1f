package checkout

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/headers"
	"github.com/wrenhold/jdbuyer/internal/reply"
)

const (
	submitURL  = "https://trade.jd.com/shopping/order/submitOrder.action"
	invoiceURL = "https://trade.jd.com/shopping/dynamic/invoice/saveInvoice.action"
)

// Storefront result codes on a failed submission.
const (
	codeInvoiceRequired = 0     // third-party item wants the plain-invoice switch
	codeCartEmpty       = 60077 // cart empty or nothing selected
	codePayPassword     = 60123 // payment password required
)

const textSuccessMarker = "成功"

var orderIDPattern = regexp.MustCompile(`\d{8,}`)

// Submit posts the order once with the current one-time tokens. The bool
// is the terminal verdict; the string is the order id on success or an
// annotated reason on failure. Network errors are reported, never raised.
func (e *Engine) Submit(ctx *Context, presale bool) (bool, string) {
	form := url.Values{}
	form.Set("overseaPurchaseCookies", "")
	form.Set("vendorRemarks", "[]")
	form.Set("submitOrderParam.sopNotPutInvoice", "false")
	form.Set("submitOrderParam.trackID", "TestTrackId")
	form.Set("submitOrderParam.ignorePriceChange", "0")
	form.Set("submitOrderParam.btSupport", "0")
	form.Set("riskControl", ctx.RiskControl)
	form.Set("submitOrderParam.isBestCoupon", "1")
	form.Set("submitOrderParam.jxj", "1")
	form.Set("submitOrderParam.trackId", ctx.TrackID)
	form.Set("submitOrderParam.eid", ctx.EncryptedID)
	form.Set("submitOrderParam.fp", ctx.Fingerprint)
	form.Set("submitOrderParam.needCheck", "1")

	if presale {
		form.Set("preSalePaymentTypeInOptional", "2")
		form.Set("submitOrderParam.payType4YuShou", "2")
	}
	if e.payPassword != "" {
		form.Set("submitOrderParam.payPassword", obfuscatePassword(e.payPassword))
	}

	req, err := http.NewRequest(http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err.Error()
	}
	req.Header = headers.Submit(e.sess.UserAgent)

	resp, err := e.sess.Do(req)
	if err != nil {
		return false, "submit request failed: " + err.Error()
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "reading submit response failed: " + err.Error()
	}

	return e.decodeSubmitReply(reply.Parse(body))
}

func (e *Engine) decodeSubmitReply(r reply.Reply) (bool, string) {
	switch r.Kind {
	case reply.JSON:
		if r.JSON.Get("success").Bool() {
			return true, r.JSON.Get("orderId").String()
		}
		msg := r.Message()
		// A missing resultCode must not look like code 0.
		if code := r.JSON.Get("resultCode"); code.Exists() {
			switch code.Int() {
			case codeInvoiceRequired:
				// Corrective side effect before the caller's next retry.
				e.switchToPlainInvoice()
				msg += " (third-party item, switched to a plain invoice for the next attempt)"
			case codeCartEmpty:
				msg += " (cart is empty or nothing is selected)"
			case codePayPassword:
				msg += " (a payment password must be configured)"
			}
		}
		return false, msg
	case reply.Text:
		if r.Contains(textSuccessMarker) {
			if id := orderIDPattern.FindString(r.Text); id != "" {
				return true, id
			}
			return true, "unknown"
		}
		return false, trimForLog(r.Text)
	}
	return false, "empty submit response"
}

// switchToPlainInvoice flips a third-party order from an electronic to a
// plain invoice, which unblocks result code 0.
func (e *Engine) switchToPlainInvoice() {
	form := url.Values{}
	form.Set("invoiceParam.selectedInvoiceType", "1")
	form.Set("invoiceParam.companyName", "个人")
	form.Set("invoiceParam.invoicePutType", "0")
	form.Set("invoiceParam.selectInvoiceTitle", "4")
	form.Set("invoiceParam.selectBookInvoiceContent", "")
	form.Set("invoiceParam.selectNormalInvoiceContent", "1")
	form.Set("invoiceParam.vatCompanyName", "")
	form.Set("invoiceParam.code", "")
	form.Set("invoiceParam.regAddr", "")
	form.Set("invoiceParam.regPhone", "")
	form.Set("invoiceParam.regBank", "")
	form.Set("invoiceParam.regBankAccount", "")
	form.Set("invoiceParam.hasCommon", "true")
	form.Set("invoiceParam.hasBook", "false")
	form.Set("invoiceParam.consigneeName", "")
	form.Set("invoiceParam.consigneePhone", "")
	form.Set("invoiceParam.consigneeAddress", "")
	form.Set("invoiceParam.consigneeProvince", "请选择：")
	form.Set("invoiceParam.consigneeProvinceId", "NaN")
	form.Set("invoiceParam.consigneeCity", "请选择")
	form.Set("invoiceParam.consigneeCityId", "NaN")
	form.Set("invoiceParam.consigneeCounty", "请选择")
	form.Set("invoiceParam.consigneeCountyId", "NaN")
	form.Set("invoiceParam.consigneeTown", "请选择")
	form.Set("invoiceParam.consigneeTownId", "0")
	form.Set("invoiceParam.sendSeparate", "false")
	form.Set("invoiceParam.usualInvoiceId", "")
	form.Set("invoiceParam.selectElectroTitle", "4")
	form.Set("invoiceParam.electroCompanyName", "undefined")
	form.Set("invoiceParam.electroInvoiceEmail", "")
	form.Set("invoiceParam.electroInvoicePhone", "")
	form.Set("invokeInvoiceBasicService", "true")
	form.Set("invoice_ceshi1", "")
	form.Set("invoiceParam.showInvoiceSeparate", "false")
	form.Set("invoiceParam.invoiceSeparateSwitch", "1")
	form.Set("invoiceParam.invoiceCode", "")
	form.Set("invoiceParam.saveInvoiceFlag", "1")

	req, err := http.NewRequest(http.MethodPost, invoiceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header = headers.Invoice(e.sess.UserAgent)
	resp, err := e.sess.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("invoice switch call failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	log.Info().Msg("switched to a plain invoice")
}

// obfuscatePassword applies the storefront's fixed per-character scheme:
// each character is prefixed with "u3".
func obfuscatePassword(p string) string {
	var b strings.Builder
	for _, r := range p {
		b.WriteString("u3")
		b.WriteRune(r)
	}
	return b.String()
}

func trimForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }
