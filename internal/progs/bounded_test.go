package progs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaserver/internal/arena"
)

func TestCallReturnsValue(t *testing.T) {
	v, err := Call(context.Background(), time.Second, func(context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, v)
}

func TestCallTimesOut(t *testing.T) {
	start := time.Now()
	_, err := Call(context.Background(), 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(5 * time.Second):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	assert.True(t, eris.Is(err, arena.ErrProgTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallWrapsFailureAndPanic(t *testing.T) {
	_, err := Call(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, errors.New("script error")
	})
	assert.True(t, eris.Is(err, arena.ErrProgFailed))

	_, err = Call(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("boom")
	})
	assert.True(t, eris.Is(err, arena.ErrProgFailed))
}

func TestSurvivorOutcome(t *testing.T) {
	ev := &arena.Event{Sides: []arena.Side{{Index: 0}, {Index: 1}}}
	signups := []*arena.Signup{
		{ID: 1, SideIndex: 0}, {ID: 2, SideIndex: 0},
		{ID: 3, SideIndex: 1}, {ID: 4, SideIndex: 1},
	}

	o := SurvivorOutcome(ev, signups, []*arena.Elimination{{SignupID: 3}})
	assert.Equal(t, []int{0}, o.WinningSides)
	assert.True(t, o.Forced)

	o = SurvivorOutcome(ev, signups, nil)
	assert.True(t, o.IsDraw(), "equal survivors on every side is a draw")
}
