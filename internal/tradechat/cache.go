package tradechat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"escrowdesk/internal/models"
)

// Cache хранит последние сообщения чата в redis-списке, новые в голове.
type Cache struct {
	client *redis.Client
	limit  int64
}

func NewCache(client *redis.Client, limit int64) *Cache {
	if limit <= 0 {
		limit = 100
	}
	return &Cache{client: client, limit: limit}
}

func cacheKey(chatID string) string {
	return "chat:" + chatID + ":messages"
}

// Append добавляет сообщение, только если история уже прогрета.
func (c *Cache) Append(ctx context.Context, chatID string, msg models.TradeMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := cacheKey(chatID)
	pipe := c.client.TxPipeline()
	pipe.LPushX(ctx, key, b)
	pipe.LTrim(ctx, key, 0, c.limit-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Fill заменяет историю; msgs упорядочены от старых к новым.
func (c *Cache) Fill(ctx context.Context, chatID string, msgs []models.TradeMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	key := cacheKey(chatID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.LPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, 0, c.limit-1)
	_, err := pipe.Exec(ctx)
	return err
}

// History возвращает сообщения от старых к новым; ok=false, если кэш пуст.
func (c *Cache) History(ctx context.Context, chatID string) ([]models.TradeMessage, bool, error) {
	vals, err := c.client.LRange(ctx, cacheKey(chatID), 0, c.limit-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	res := make([]models.TradeMessage, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var m models.TradeMessage
		if e := json.Unmarshal([]byte(vals[i]), &m); e == nil {
			res = append(res, m)
		}
	}
	return res, true, nil
}
