package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*MatchCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewMatchCache(rdb), mr
}

func sampleProjection(matchID string) *MatchProjection {
	return &MatchProjection{
		MatchID:           matchID,
		Player1ID:         "u1",
		Player1ExternalID: "ext-1",
		Player1Name:       "Alice",
		StakeAmount:       100,
		Status:            "waiting",
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func TestProjectionRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	proj := sampleProjection("m1")
	require.NoError(t, c.SaveProjection(ctx, proj, time.Minute))

	got, err := c.GetProjection(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, proj.MatchID, got.MatchID)
	assert.Equal(t, proj.Player1ExternalID, got.Player1ExternalID)
	assert.Equal(t, proj.StakeAmount, got.StakeAmount)
}

func TestProjectionExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveProjection(ctx, sampleProjection("m1"), 10*time.Second))

	mr.FastForward(11 * time.Second)

	_, err := c.GetProjection(ctx, "m1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetProjectionMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.GetProjection(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRefreshTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveProjection(ctx, sampleProjection("m1"), 5*time.Second))
	require.NoError(t, c.RefreshTTL(ctx, "m1", time.Minute))

	mr.FastForward(30 * time.Second)
	_, err := c.GetProjection(ctx, "m1")
	assert.NoError(t, err)

	assert.ErrorIs(t, c.RefreshTTL(ctx, "absent", time.Minute), ErrMiss)
}

func TestPutChoiceExactlyOnce(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	stored, err := c.PutChoice(ctx, "m1", 1, "rock", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	// second write to the same slot is rejected, value untouched
	stored, err = c.PutChoice(ctx, "m1", 1, "paper", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	choice1, choice2, err := c.GetChoices(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "rock", choice1)
	assert.Empty(t, choice2)
}

func TestExtendChoice(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.PutChoice(ctx, "m1", 1, "rock", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, c.ExtendChoice(ctx, "m1", 1, time.Minute))

	mr.FastForward(30 * time.Second)
	choice1, _, err := c.GetChoices(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "rock", choice1)

	assert.ErrorIs(t, c.ExtendChoice(ctx, "m1", 2, time.Minute), ErrMiss)
}

func TestPurge(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveProjection(ctx, sampleProjection("m1"), time.Minute))
	_, err := c.PutChoice(ctx, "m1", 1, "rock", time.Minute)
	require.NoError(t, err)
	_, err = c.PutChoice(ctx, "m1", 2, "paper", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Purge(ctx, "m1"))

	_, err = c.GetProjection(ctx, "m1")
	assert.ErrorIs(t, err, ErrMiss)
	choice1, choice2, err := c.GetChoices(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, choice1)
	assert.Empty(t, choice2)

	// purging an already-empty match is fine
	assert.NoError(t, c.Purge(ctx, "m1"))
}
