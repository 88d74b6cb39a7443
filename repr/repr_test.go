package repr_test

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladlpavlov/Pythagoras-sub001/repr"
)

type point struct {
	X, Y   int
	hidden string
}

type hooked struct{ id int }

func (h hooked) Fingerprint() (string, error) { return "hooked-const", nil }

type named struct{}

func (named) Name() string { return "my_model" }

func fp(t *testing.T, v any) string {
	t.Helper()
	s, err := repr.Fingerprint().Render(context.Background(), v)
	require.NoError(t, err)
	return s
}

func TestFingerprint_Scalars(t *testing.T) {
	assert.Equal(t, "N", fp(t, nil))
	assert.Equal(t, "B1", fp(t, true))
	assert.Equal(t, "B0", fp(t, false))
	assert.Equal(t, "I-42", fp(t, -42))
	assert.Equal(t, "U7", fp(t, uint8(7)))
	assert.Equal(t, "F3.1415927", fp(t, math.Pi))
	assert.Equal(t, "S3:abc", fp(t, "abc"))
}

func TestFingerprint_LongStringsAreDigested(t *testing.T) {
	long := strings.Repeat("x", repr.MaxLiteralLen+1)
	other := strings.Repeat("x", repr.MaxLiteralLen) + "y"

	s := fp(t, long)
	assert.True(t, strings.HasPrefix(s, "L65:"))
	assert.NotEqual(t, s, fp(t, other))
}

func TestFingerprint_SetsAreOrderIndependent(t *testing.T) {
	a := repr.NewSet(1, 2, 3)
	b := repr.NewSet(3, 2, 1)
	assert.Equal(t, fp(t, a), fp(t, b))
	assert.NotEqual(t, fp(t, a), fp(t, repr.NewSet(1, 2)))
}

func TestFingerprint_SequencesKeepOrder(t *testing.T) {
	assert.NotEqual(t, fp(t, []int{1, 2}), fp(t, []int{2, 1}))
	assert.Equal(t, fp(t, []int{}), fp(t, []int(nil)))
}

func TestFingerprint_MapsAreSorted(t *testing.T) {
	a := map[string]any{"a": 1, "b": "x"}
	b := map[string]any{"b": "x", "a": 1}
	assert.Equal(t, fp(t, a), fp(t, b))
}

func TestFingerprint_TablesIncludeLabels(t *testing.T) {
	base := repr.Frame{Columns: []string{"a", "b"}, Index: []string{"r0"}, Data: [][]any{{1.0}, {2.0}}}
	relabelled := repr.Frame{Columns: []string{"b", "a"}, Index: []string{"r0"}, Data: [][]any{{1.0}, {2.0}}}
	reindexed := repr.Frame{Columns: []string{"a", "b"}, Index: []string{"r1"}, Data: [][]any{{1.0}, {2.0}}}

	assert.NotEqual(t, fp(t, base), fp(t, relabelled))
	assert.NotEqual(t, fp(t, base), fp(t, reindexed))
	assert.Equal(t, fp(t, base), fp(t, repr.Frame{Columns: []string{"a", "b"}, Index: []string{"r0"}, Data: [][]any{{1.0}, {2.0}}}))
}

func TestFingerprint_HookAndObjectFallback(t *testing.T) {
	assert.Equal(t, fp(t, hooked{id: 1}), fp(t, hooked{id: 2}))

	p1 := fp(t, point{X: 1, Y: 2, hidden: "a"})
	p2 := fp(t, point{X: 1, Y: 2, hidden: "b"})
	assert.Equal(t, p1, p2, "hidden state is not part of the fallback")
	assert.NotEqual(t, p1, fp(t, point{X: 2, Y: 2}))
	assert.Equal(t, p1, fp(t, &point{X: 1, Y: 2}))
}

func TestFingerprint_FailsOnFuncs(t *testing.T) {
	_, err := repr.Fingerprint().Render(context.Background(), func() {})
	require.ErrorIs(t, err, repr.ErrNoFingerprint)
	assert.Contains(t, err.Error(), "func()")

	_, err = repr.Fingerprint().Render(context.Background(), map[string]any{"ch": make(chan int)})
	require.ErrorIs(t, err, repr.ErrNoFingerprint)
}

func TestFingerprint_DetectsCycles(t *testing.T) {
	type node struct{ Next *node }
	n := &node{}
	n.Next = n
	_, err := repr.Fingerprint().Render(context.Background(), n)
	require.ErrorIs(t, err, repr.ErrNoFingerprint)

	m := map[string]any{"a": 1}
	m["self"] = m
	_, err = repr.Fingerprint().Render(context.Background(), m)
	require.ErrorIs(t, err, repr.ErrNoFingerprint)

	outer := map[string]any{"inner": []any{m}}
	_, err = repr.Fingerprint().Render(context.Background(), outer)
	require.ErrorIs(t, err, repr.ErrNoFingerprint)

	shared := map[string]any{"x": 1}
	s, err := repr.Fingerprint().Render(context.Background(), []any{shared, shared})
	require.NoError(t, err, "a map seen twice side by side is not a cycle")
	assert.NotEmpty(t, s)
}

func TestFingerprint_CustomHandlerRunsBeforeFallback(t *testing.T) {
	b := repr.Fingerprint().WithCustom(func(_ context.Context, v reflect.Value) (string, bool, error) {
		if v.Kind() == reflect.Func {
			return "FUNC", true, nil
		}
		return "", false, nil
	})
	s, err := b.Render(context.Background(), func() {})
	require.NoError(t, err)
	assert.Equal(t, "FUNC", s)

	s, err = b.Render(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "I3", s)
}

func TestFingerprint_ExtraArmsTakePriority(t *testing.T) {
	b := repr.Fingerprint().WithArms(repr.Arm{
		Name:  "int-as-text",
		Match: func(v reflect.Value) bool { return v.IsValid() && v.Kind() == reflect.Int },
		Render: func(_ *repr.Walker, v reflect.Value) (string, error) {
			return "int!", nil
		},
	})
	s, err := b.Render(context.Background(), []any{1, "a"})
	require.NoError(t, err)
	assert.Equal(t, "A2[int!,S1:a]", s)
}

func TestSlim_Fragments(t *testing.T) {
	slim := func(v any) string {
		s, err := repr.Slim().Render(context.Background(), v)
		require.NoError(t, err)
		return s
	}
	frame := repr.Frame{
		Columns: []string{"a", "b"},
		Index:   []string{"0", "1", "2"},
		Data:    [][]any{{1.0, math.NaN(), nil}, {1.0, 2.0, 3.0}},
	}
	assert.Equal(t, "Table(3x2,nans2)", slim(frame))
	assert.Equal(t, "list_len3", slim([]int{1, 2, 3}))
	assert.Equal(t, "set_len2", slim(repr.NewSet("a", "b")))
	assert.Equal(t, "my_model", slim(named{}))
	assert.Equal(t, "point", slim(point{}))
	assert.Equal(t, "None", slim(nil))
	assert.Len(t, slim(strings.Repeat("z", 100)), repr.MaxSlimStringLen)
	assert.Equal(t, "func()", slim(func() {}))
}
