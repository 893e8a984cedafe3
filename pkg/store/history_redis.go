package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"saleschat/pkg/domain"
)

// RedisHistoryStore keeps per-file chat history in Redis lists.
// Keys follow chat_history_<fileID> so histories never overlap.
type RedisHistoryStore struct {
	client *redis.Client
}

// NewRedisHistoryStore builds a Redis-backed history store.
func NewRedisHistoryStore(addr, password string) *RedisHistoryStore {
	return &RedisHistoryStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// History returns all messages for a file in append order.
func (s *RedisHistoryStore) History(fileID string) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := s.client.LRange(ctx, historyKey(fileID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AppendMessage pushes a message onto the file's history list.
func (s *RedisHistoryStore) AppendMessage(fileID string, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.RPush(ctx, historyKey(fileID), payload).Err()
}

// ClearHistory drops the file's history list only.
func (s *RedisHistoryStore) ClearHistory(fileID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, historyKey(fileID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func historyKey(fileID string) string {
	return "chat_history_" + fileID
}
