package memo

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

// DefaultMaxKeyLen keeps cache file names under common filesystem limits.
const DefaultMaxKeyLen = 200

const overflowLen = 16

func shortHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// subdirName is "<last name component>_<hash8>", unique per function name.
func subdirName(name string) string {
	short := name
	if i := strings.LastIndexAny(short, "./"); i >= 0 && i < len(short)-1 {
		short = short[i+1:]
	}
	short = strings.TrimLeft(persidict.Sanitize(short), ".")
	if short == "" {
		short = "fn"
	}
	return short + "_" + shortHash(name)[:8]
}

// key is the cache file key of one call. slimExtra goes into the legible
// part; fpExtra only into the fingerprint.
func (c *Cache) key(ctx context.Context, name string, kw Kwargs, slimExtra, fpExtra []string) (persidict.Key, error) {
	parts := []string{shortHash(name)[:8]}
	parts = append(parts, slimExtra...)
	for _, k := range helper.SortedKeys(kw) {
		s, err := c.slim.Render(ctx, kw[k])
		if err != nil {
			s = "x"
		}
		parts = append(parts, k+"-"+s)
	}

	text, err := c.fp.Render(ctx, map[string]any(kw))
	if err != nil {
		return nil, fmt.Errorf("fingerprint arguments of %s: %w", name, err)
	}
	parts = append(parts, address.HashText(strings.Join(slices.Concat(slimExtra, fpExtra, []string{text}), "\x00")))

	key := persidict.Sanitize(strings.Join(parts, "_"))
	if limit := c.opts.MaxKeyLen; len(key) > limit {
		cut := limit - overflowLen - 1
		key = key[:cut] + "_" + shortHash(key[cut:])
	}
	return persidict.NewKey(key)
}
