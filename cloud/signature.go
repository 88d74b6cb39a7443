package cloud

import (
	"context"
	"fmt"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
	"github.com/vladlpavlov/Pythagoras-sub001/repr"
	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

type Requirements struct {
	GoVersion string   `yaml:"go_version"`
	Packages  []string `yaml:"packages"`
}

// Snapshot pins the code of a published function: its own normalized source
// and that of every published function it reaches.
type Snapshot struct {
	Function     string            `yaml:"function"`
	Source       string            `yaml:"source"`
	Imports      []string          `yaml:"imports"`
	Dependencies map[string]string `yaml:"dependencies"`
	Requirements Requirements      `yaml:"requirements"`
}

var (
	_ repr.Fingerprinter = Snapshot{}
	_ repr.Namer         = Snapshot{}
)

func (s Snapshot) Name() string { return s.Function }

func (s Snapshot) Fingerprint() (string, error) {
	return repr.Fingerprint().Render(context.Background(), map[string]any{
		"function":     s.Function,
		"source":       s.Source,
		"imports":      s.Imports,
		"dependencies": s.Dependencies,
		"go_version":   s.Requirements.GoVersion,
		"packages":     s.Requirements.Packages,
	})
}

// CallSignature identifies one invocation: a code version and packed
// arguments. Its address keys the output.
type CallSignature struct {
	Function string `yaml:"function"`
	Snapshot string `yaml:"snapshot"`
	Args     string `yaml:"args"`
}

var (
	_ repr.Fingerprinter = CallSignature{}
	_ repr.Namer         = CallSignature{}
)

func (s CallSignature) Name() string { return s.Function }

func (s CallSignature) Fingerprint() (string, error) {
	return repr.Fingerprint().Render(context.Background(), []string{s.Snapshot, s.Args})
}

func init() {
	persidict.Register(Snapshot{})
	persidict.Register(CallSignature{})
}

// pack replaces every argument with its address, pushing the values, and
// pushes the resulting name-to-address map.
func (c *Cloud) pack(ctx context.Context, kw Kwargs) (address.Address, error) {
	packed := make(map[string]string, len(kw))
	for _, k := range helper.SortedKeys(kw) {
		a, err := address.Push(ctx, c.stores.Values, kw[k])
		if err != nil {
			return address.Address{}, fmt.Errorf("argument %s: %w", k, err)
		}
		packed[k] = a.String()
	}
	return address.Push(ctx, c.stores.Values, packed)
}

func (c *Cloud) unpack(ctx context.Context, args string) (Kwargs, error) {
	a, err := address.Parse(args)
	if err != nil {
		return nil, err
	}
	raw, err := address.Fetch(ctx, c.stores.Values, a)
	if err != nil {
		return nil, fmt.Errorf("packed arguments %s: %w", a, err)
	}
	packed, err := stringMap(raw)
	if err != nil {
		return nil, fmt.Errorf("packed arguments %s: %w", a, err)
	}
	kw := make(Kwargs, len(packed))
	for k, s := range packed {
		va, err := address.Parse(s)
		if err != nil {
			return nil, err
		}
		if kw[k], err = address.Fetch(ctx, c.stores.Values, va); err != nil {
			return nil, fmt.Errorf("argument %s: %w", k, err)
		}
	}
	return kw, nil
}

// stringMap accepts the gob form and the generic yaml form.
func stringMap(raw any) (map[string]string, error) {
	switch m := raw.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("entry %s is %T, want string", k, v)
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected %T", raw)
}

func decodeSignature(raw any) (CallSignature, error) {
	switch s := raw.(type) {
	case CallSignature:
		return s, nil
	case map[string]any:
		m, err := stringMap(s)
		if err != nil {
			return CallSignature{}, err
		}
		return CallSignature{Function: m["function"], Snapshot: m["snapshot"], Args: m["args"]}, nil
	}
	return CallSignature{}, fmt.Errorf("unexpected call signature %T", raw)
}
