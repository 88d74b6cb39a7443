package persidict

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects how values are serialized on disk or in a bucket.
type Format string

const (
	// FormatGob is the exact native snapshot. Concrete types carried inside
	// interface values must be registered with Register.
	FormatGob Format = "gob"
	// FormatYAML is the portable, human-inspectable text form. Structs read
	// back as maps.
	FormatYAML Format = "yaml"
)

func init() {
	Register(map[string]any{})
	Register([]any{})
	Register(map[string]string{})
	Register(map[string]int{})
	Register(map[string]float64{})
	Register(map[string][]string{})
	Register(time.Time{})
}

// Register makes a concrete type storable inside interface values in FormatGob.
func Register(v any) {
	gob.Register(v)
}

// Ext is the file extension, without the dot.
func (f Format) Ext() string { return string(f) }

func (f Format) Validate() error {
	switch f {
	case FormatGob, FormatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q", string(f))
}

type gobEnvelope struct {
	V any
}

func (f Format) Marshal(v any) ([]byte, error) {
	switch f {
	case FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(gobEnvelope{V: v}); err != nil {
			return nil, fmt.Errorf("gob encode %T: %w", v, err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("yaml encode %T: %w", v, err)
		}
		return b, nil
	default:
		panic(fmt.Sprintf("exhaustive match fallback, format: %q", string(f)))
	}
}

// Restore is v as it reads back from a store in format f.
func (f Format) Restore(v any) (any, error) {
	b, err := f.Marshal(v)
	if err != nil {
		return nil, err
	}
	return f.Unmarshal(b)
}

func (f Format) Unmarshal(b []byte) (any, error) {
	switch f {
	case FormatGob:
		var env gobEnvelope
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
			return nil, fmt.Errorf("gob decode: %w", err)
		}
		return env.V, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("yaml decode: %w", err)
		}
		return v, nil
	default:
		panic(fmt.Sprintf("exhaustive match fallback, format: %q", string(f)))
	}
}
