package cloud_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladlpavlov/Pythagoras-sub001/cloud"
	"github.com/vladlpavlov/Pythagoras-sub001/config"
)

func square(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	x := kw["x"].(int)
	return x * x, nil
}

const squareSrc = `
func square(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	x := kw["x"].(int)
	return x * x, nil
}`

func sumSquares(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	total := 0
	for i := 1; i <= kw["n"].(int); i++ {
		sq, err := env.Call(ctx, "square", cloud.Kwargs{"x": i})
		if err != nil {
			return nil, err
		}
		total += sq.(int)
	}
	return total, nil
}

const sumSquaresSrc = `
func sumSquares(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	total := 0
	for i := 1; i <= kw["n"].(int); i++ {
		sq, err := env.Call(ctx, "square", cloud.Kwargs{"x": i})
		if err != nil {
			return nil, err
		}
		total += sq.(int)
	}
	return total, nil
}`

func coin(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return rand.Int64(), nil
}

const coinSrc = `
func coin(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return rand.Int64(), nil
}`

func fail(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return nil, errors.New("boom")
}

const failSrc = `
func fail(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return nil, errors.New("boom")
}`

// sneaky declares a call to square but reaches for coin at run time.
func sneaky(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return env.Call(ctx, "coin", kw)
}

const sneakySrc = `
func sneaky(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return env.Call(ctx, "square", kw)
}`

func upper(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	return strings.ToUpper(kw["s"].(string)), nil
}

var calls int

func counted(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	calls++
	return calls, nil
}

type counter struct{ n int }

func (c *counter) next(ctx context.Context, env *cloud.Env, kw cloud.Kwargs) (any, error) {
	c.n++
	return c.n, nil
}

// publishAll publishes the fixture functions. Worker processes publish the
// same set so snapshots match.
func publishAll(ctx context.Context, c *cloud.Cloud) error {
	steps := []func() (*cloud.Function, error){
		func() (*cloud.Function, error) { return c.Publish(ctx, "square", square, squareSrc) },
		func() (*cloud.Function, error) {
			return c.Publish(ctx, "sumSquares", sumSquares, sumSquaresSrc, cloud.AllowPublished())
		},
		func() (*cloud.Function, error) {
			return c.Publish(ctx, "coin", coin, coinSrc, cloud.WithImports("math/rand/v2"))
		},
		func() (*cloud.Function, error) {
			return c.Publish(ctx, "fail", fail, failSrc, cloud.WithImports("errors"))
		},
		func() (*cloud.Function, error) {
			return c.Publish(ctx, "sneaky", sneaky, sneakySrc, cloud.AllowPublished())
		},
	}
	for _, step := range steps {
		if _, err := step(); err != nil {
			return err
		}
	}
	return nil
}

func newCloud(t *testing.T, dir string, edit ...func(*cloud.Config)) *cloud.Cloud {
	t.Helper()
	cfg := cloud.Config{Config: config.Default()}
	cfg.BaseDir = dir
	for _, e := range edit {
		e(&cfg)
	}
	c, err := cloud.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func publishedCloud(t *testing.T, dir string, edit ...func(*cloud.Config)) *cloud.Cloud {
	t.Helper()
	c := newCloud(t, dir, edit...)
	require.NoError(t, publishAll(context.Background(), c))
	return c
}

func mustFunction(t *testing.T, c *cloud.Cloud, name string) *cloud.Function {
	t.Helper()
	f, err := c.Function(name)
	require.NoError(t, err)
	return f
}
