package buyer

import (
	"fmt"
	"strings"
	"time"
)

var buyTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseBuyTime reads a scheduled start in local time. An empty string
// means "start immediately" and yields the zero time.
func ParseBuyTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range buyTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized buy time %q", raw)
}
