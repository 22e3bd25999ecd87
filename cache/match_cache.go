package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a projection or choice key is absent or expired.
var ErrMiss = errors.New("cache: entry not found")

// MatchProjection is the compact hot-path view of a live match. The durable
// match row is the source of truth; this is a best-effort mirror that can be
// rebuilt from it.
type MatchProjection struct {
	MatchID string `json:"match_id"`

	Player1ID         string `json:"player1_id"` // durable user UUID
	Player1ExternalID string `json:"player1_external_id"`
	Player1Name       string `json:"player1_name"`

	Player2ID         string `json:"player2_id,omitempty"`
	Player2ExternalID string `json:"player2_external_id,omitempty"`
	Player2Name       string `json:"player2_name,omitempty"`

	Promise     string `json:"promise,omitempty"`
	StakeAmount int64  `json:"stake_amount"`
	Status      string `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// MatchCache holds live match projections and per-player pending choices in
// redis, each entry self-expiring. Written only by the match service; the
// timeout worker may delete entries but never rewrites them.
type MatchCache struct {
	rdb *redis.Client
}

func NewMatchCache(rdb *redis.Client) *MatchCache {
	return &MatchCache{rdb: rdb}
}

func matchKey(matchID string) string {
	return "match:" + matchID
}

func choiceKey(matchID string, slot int) string {
	return fmt.Sprintf("match:%s:choice:%d", matchID, slot)
}

// SaveProjection writes the projection with the given TTL, replacing any
// previous value.
func (c *MatchCache) SaveProjection(ctx context.Context, proj *MatchProjection, ttl time.Duration) error {
	data, err := json.Marshal(proj)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, matchKey(proj.MatchID), data, ttl).Err()
}

// GetProjection returns the live projection, or ErrMiss if it expired.
func (c *MatchCache) GetProjection(ctx context.Context, matchID string) (*MatchProjection, error) {
	data, err := c.rdb.Get(ctx, matchKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var proj MatchProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, err
	}
	return &proj, nil
}

// RefreshTTL extends the projection's expiry without touching its value.
func (c *MatchCache) RefreshTTL(ctx context.Context, matchID string, ttl time.Duration) error {
	ok, err := c.rdb.Expire(ctx, matchKey(matchID), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMiss
	}
	return nil
}

// PutChoice stores a player's pending choice with the given TTL. Returns
// false if the slot is already populated — the write-if-absent makes the
// exactly-once-per-player guarantee atomic even across service instances.
func (c *MatchCache) PutChoice(ctx context.Context, matchID string, slot int, choice string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, choiceKey(matchID, slot), choice, ttl).Result()
}

// ExtendChoice pushes a stored choice's expiry out, keeping it alive for the
// full match grace period once one player has committed.
func (c *MatchCache) ExtendChoice(ctx context.Context, matchID string, slot int, ttl time.Duration) error {
	ok, err := c.rdb.Expire(ctx, choiceKey(matchID, slot), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMiss
	}
	return nil
}

// GetChoices returns both pending choices; an empty string marks an absent slot.
func (c *MatchCache) GetChoices(ctx context.Context, matchID string) (string, string, error) {
	vals, err := c.rdb.MGet(ctx, choiceKey(matchID, 1), choiceKey(matchID, 2)).Result()
	if err != nil {
		return "", "", err
	}
	choices := [2]string{}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			choices[i] = s
		}
	}
	return choices[0], choices[1], nil
}

// Purge removes the projection and both choice slots. Missing keys are fine.
func (c *MatchCache) Purge(ctx context.Context, matchID string) error {
	return c.rdb.Del(ctx, matchKey(matchID), choiceKey(matchID, 1), choiceKey(matchID, 2)).Err()
}
