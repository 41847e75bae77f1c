package downloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_SettlesOnce(t *testing.T) {
	p := NewPromise()
	assert.True(t, p.IsPending())

	boom := errors.New("boom")
	assert.True(t, p.Reject(boom))
	assert.False(t, p.Fulfill())
	assert.False(t, p.Reject(errors.New("other")))

	assert.False(t, p.IsPending())
	assert.Equal(t, boom, p.Err())
	assert.Equal(t, boom, p.Wait(context.Background()))

	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestPromise_ObserversBeforeAndAfterSettlement(t *testing.T) {
	p := NewPromise()

	var early []error
	p.OnSettled(func(err error) { early = append(early, err) })
	assert.Empty(t, early)

	require.True(t, p.Fulfill())
	assert.Equal(t, []error{nil}, early)

	late := false
	p.OnSettled(func(err error) {
		late = true
		assert.NoError(t, err)
	})
	assert.True(t, late)
}

func TestPromise_WaitHonoursContext(t *testing.T) {
	p := NewPromise()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
	assert.True(t, p.IsPending())

	go p.Fulfill()
	assert.NoError(t, p.Wait(context.Background()))
}

func TestPromise_RejectNilPanics(t *testing.T) {
	assert.Panics(t, func() { NewPromise().Reject(nil) })
}
