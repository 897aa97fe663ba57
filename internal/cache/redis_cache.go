package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps a Redis client as a PromptCache. Entries expire after
// ttl so a crashed process cannot leave stale correlations behind.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type openValue struct {
	CycleID  string              `json:"cycleId"`
	Question models.QuestionType `json:"question"`
	IssuedAt time.Time           `json:"issuedAt"`
}

func promptKey(patientID int64) string {
	return fmt.Sprintf("prompt:%d", patientID)
}

func (c *RedisCache) StoreOpen(ctx context.Context, p models.OpenPrompt) error {
	val := openValue{CycleID: p.CycleID, Question: p.Question, IssuedAt: p.IssuedAt.UTC()}
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, promptKey(p.PatientID), b, c.ttl).Err()
}

func (c *RedisCache) GetOpen(ctx context.Context, patientID int64) (*models.OpenPrompt, error) {
	raw, err := c.rdb.Get(ctx, promptKey(patientID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var val openValue
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, err
	}
	return &models.OpenPrompt{
		PatientID: patientID,
		CycleID:   val.CycleID,
		Question:  val.Question,
		IssuedAt:  val.IssuedAt,
	}, nil
}

func (c *RedisCache) Clear(ctx context.Context, patientID int64) error {
	return c.rdb.Del(ctx, promptKey(patientID)).Err()
}
