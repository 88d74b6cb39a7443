package memo

import (
	"errors"
	"fmt"

	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

var ErrCorruptEntry = errors.New("corrupt cache entry")

// Entry is what a cache file holds.
type Entry struct {
	Data        any     `yaml:"data"`
	CostSeconds float64 `yaml:"cost_in_seconds"`
	Source      string  `yaml:"source"`
}

func init() {
	persidict.Register(Entry{})
}

// decodeEntry accepts both the gob form (an Entry) and the yaml form (a map).
func decodeEntry(raw any) (Entry, error) {
	var e Entry
	switch raw := raw.(type) {
	case Entry:
		e = raw
	case *Entry:
		if raw == nil {
			return Entry{}, fmt.Errorf("%w: nil entry", ErrCorruptEntry)
		}
		e = *raw
	case map[string]any:
		cost, ok := toFloat(raw["cost_in_seconds"])
		if !ok {
			return Entry{}, fmt.Errorf("%w: cost_in_seconds is %T", ErrCorruptEntry, raw["cost_in_seconds"])
		}
		src, _ := raw["source"].(string)
		e = Entry{Data: raw["data"], CostSeconds: cost, Source: src}
	default:
		return Entry{}, fmt.Errorf("%w: unexpected %T", ErrCorruptEntry, raw)
	}
	if e.CostSeconds <= 0 {
		return Entry{}, fmt.Errorf("%w: non-positive cost %v", ErrCorruptEntry, e.CostSeconds)
	}
	return e, nil
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
