package persidict

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrNotFound   = errors.New("key not found")
	ErrImmutable  = errors.New("immutable item")
)

// SafeChars is the alphabet allowed in key segments.
const SafeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-."

// Key is a non-empty sequence of non-empty safe-string segments.
type Key []string

// KeySegmenter is implemented by values that know their own key, e.g. addresses.
type KeySegmenter interface {
	KeySegments() []string
}

// NewKey normalizes k into a Key. A bare string is a one-element key.
// Normalization is idempotent: NewKey(NewKey(x)) == NewKey(x).
func NewKey(k any) (Key, error) {
	var segs []string
	switch k := k.(type) {
	case Key:
		segs = k
	case string:
		segs = []string{k}
	case []string:
		segs = k
	case KeySegmenter:
		segs = k.KeySegments()
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, k)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	out := make(Key, len(segs))
	for i, s := range segs {
		if err := validateSegment(s); err != nil {
			return nil, fmt.Errorf("%w: segment %d of %q: %v", ErrInvalidKey, i, strings.Join(segs, "/"), err)
		}
		out[i] = s
	}
	return out, nil
}

// MustKey is the panic-on-failure variant of NewKey.
func MustKey(k any) Key {
	key, err := NewKey(k)
	if err != nil {
		panic(err)
	}
	return key
}

func validateSegment(s string) error {
	if s == "" {
		return errors.New("empty segment")
	}
	if s[0] == '.' {
		return errors.New("segment must not start with a dot")
	}
	for _, r := range s {
		if !strings.ContainsRune(SafeChars, r) {
			return fmt.Errorf("disallowed character %q", r)
		}
	}
	return nil
}

// Sanitize maps s onto the safe alphabet, replacing other runes with '_'.
// The result is a valid segment unless s is empty.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(SafeChars, r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	for strings.HasPrefix(out, ".") {
		out = "_" + out[1:]
	}
	return out
}

func (k Key) String() string { return strings.Join(k, "/") }

// Join returns k followed by the segments of other.
func (k Key) Join(other Key) Key {
	out := make(Key, 0, len(k)+len(other))
	return append(append(out, k...), other...)
}

// HasPrefix reports whether the first segments of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}
