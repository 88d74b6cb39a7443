package handlers_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladlpavlov/Pythagoras-sub001/internal/handlers"
	"github.com/vladlpavlov/Pythagoras-sub001/internal/model"
)

func TestFireAndForgetHandler_DrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []int
	tornDown := false

	h := handlers.NewFireAndForgetHandler(
		context.Background(),
		model.NewScopeConfig(4, 1),
		func(_ context.Context, v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		},
		func() { tornDown = true },
	)

	for i := 0; i < 10; i++ {
		h.Fire(context.Background(), i)
	}
	h.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.True(t, tornDown)
}

func TestFireAndForgetHandler_FireAfterCloseIsDropped(t *testing.T) {
	count := 0
	h := handlers.NewFireAndForgetHandler(
		context.Background(),
		model.NewScopeConfig(1, 1),
		func(_ context.Context, _ string) { count++ },
		nil,
	)
	h.Close()
	h.Close()

	h.Fire(context.Background(), "late")
	assert.Equal(t, 0, count)
}
