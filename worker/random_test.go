package worker

import (
	"context"
	"testing"
	"time"

	"github.com/guseggert/enginermi/rmi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomFillsBoardThenPasses(t *testing.T) {
	ctx := context.Background()
	r := NewRandom(WithBoardSize(2), WithThinkTime(0), WithSeed(7))

	seen := map[Move]bool{}
	for i := 0; i < 4; i++ {
		res, err := r.Genmove(ctx)
		require.NoError(t, err)
		move := res.(Move)
		require.False(t, move.Pass)
		require.False(t, seen[move], "point %v played twice", move)
		seen[move] = true
	}

	res, err := r.Genmove(ctx)
	require.NoError(t, err)
	assert.Equal(t, Move{Pass: true}, res)

	score, err := r.FinalScore(ctx)
	require.NoError(t, err)
	assert.Equal(t, Score{Black: 2, White: 2, Winner: "draw"}, score)
}

func TestRandomScoreWinner(t *testing.T) {
	ctx := context.Background()
	r := NewRandom(WithBoardSize(5))

	require.NoError(t, r.Play(ctx, 1, 1))
	require.NoError(t, r.Pass(ctx))
	require.NoError(t, r.Play(ctx, 2, 2))

	score, err := r.FinalScore(ctx)
	require.NoError(t, err)
	assert.Equal(t, Score{Black: 2, White: 0, Winner: "black"}, score)
}

func TestRandomTimeLeft(t *testing.T) {
	ctx := context.Background()
	r := NewRandom(WithThinkTime(20 * time.Millisecond))

	left, err := r.TimeLeft(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, left)

	require.NoError(t, r.TimeSettings(ctx, time.Minute, 0))
	_, err = r.Genmove(ctx)
	require.NoError(t, err)

	left, err = r.TimeLeft(ctx)
	require.NoError(t, err)
	assert.Less(t, left.(float64), 60.0)
	assert.Greater(t, left.(float64), 50.0)

	err = r.TimeSettings(ctx, -time.Second, 0)
	require.ErrorIs(t, err, rmi.ErrInvalidArgument)
}

func TestRandomPonderUntilCanceled(t *testing.T) {
	r := NewRandom()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Ponder(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRandomGenmoveCanceledLeavesBoard(t *testing.T) {
	r := NewRandom(WithBoardSize(3), WithThinkTime(0), WithSeed(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		_, err := r.Genmove(ctx)
		require.ErrorIs(t, err, context.Canceled)
	}

	score, err := r.FinalScore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Score{Winner: "draw"}, score)
}
