// Package reply normalizes storefront response bodies. The remote side
// answers the same endpoint with plain JSON, JSONP-wrapped JSON, or an HTML
// fragment that only a marker phrase can classify, depending on mood and
// anti-bot posture. Everything downstream consumes the one tagged form
// produced here.
package reply

import (
	"strings"

	"github.com/tidwall/gjson"
)

type Kind int

const (
	Unparseable Kind = iota
	JSON
	Text
)

type Reply struct {
	Kind Kind
	JSON gjson.Result
	Text string
}

// Parse produces the tagged form of a body. JSONP wrappers
// (`jQuery1234567({...})`) are stripped by slicing from the first `{` to
// the last `}` before validation.
func Parse(body []byte) Reply {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return Reply{Kind: Unparseable}
	}
	if inner := unwrap(raw); inner != "" && gjson.Valid(inner) {
		return Reply{Kind: JSON, JSON: gjson.Parse(inner), Text: raw}
	}
	return Reply{Kind: Text, Text: raw}
}

func unwrap(s string) string {
	begin := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if begin < 0 || end < begin {
		return ""
	}
	return s[begin : end+1]
}

// Contains reports whether any marker phrase appears in the raw body.
func (r Reply) Contains(markers ...string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(r.Text, m) {
			return true
		}
	}
	return false
}

// Message digs out the human-readable reason the storefront attached, if
// any. Both spellings are in the wild.
func (r Reply) Message() string {
	if r.Kind != JSON {
		return ""
	}
	if msg := r.JSON.Get("message").String(); msg != "" {
		return msg
	}
	return r.JSON.Get("msg").String()
}

// Classifier decides success for one endpoint family: a JSON verdict when
// the body parsed, marker phrases as the fallback when it did not. Each
// endpoint family owns its own instance so the heuristics can be swapped
// and tested independently of transport code.
type Classifier struct {
	BoolPath string   // gjson path of a boolean success field
	CodePath string   // gjson path of a numeric status field
	CodeOK   int64    // value of CodePath that means success
	Markers  []string // text fallback phrases
}

func (c Classifier) Ok(r Reply) bool {
	switch r.Kind {
	case JSON:
		if c.BoolPath != "" && r.JSON.Get(c.BoolPath).Bool() {
			return true
		}
		if c.CodePath != "" && r.JSON.Get(c.CodePath).Exists() && r.JSON.Get(c.CodePath).Int() == c.CodeOK {
			return true
		}
		return false
	case Text:
		return r.Contains(c.Markers...)
	}
	return false
}
