package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/pkg/logger"
)

const (
	roomKeyPattern     = "chat:room:%s:%s" // room id, table
	feedChannelPattern = "chat:feed:%s:%s" // room id, table
)

// RedisAdapter stores each room collection in a sorted set scored by
// UnixMilli and propagates inserts over pub/sub. Room history expires
// with the configured TTL; rooms are bounded-duration live sessions.
type RedisAdapter struct {
	client   *redis.Client
	clientID string
	ttl      time.Duration
	log      logger.Logger
}

func NewRedis(client *redis.Client, historyTTL time.Duration, log logger.Logger) *RedisAdapter {
	return &RedisAdapter{
		client:   client,
		clientID: newClientID(),
		ttl:      historyTTL,
		log:      log,
	}
}

func (a *RedisAdapter) Degraded() bool { return false }

func roomKey(roomID string, table Table) string {
	return fmt.Sprintf(roomKeyPattern, roomID, table)
}

func feedChannel(roomID string, table Table) string {
	return fmt.Sprintf(feedChannelPattern, roomID, table)
}

func (a *RedisAdapter) QueryMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	raws, err := a.queryRaw(ctx, roomID, TableMessages)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(raws))
	for _, raw := range raws {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			a.log.Warn("skipping undecodable message row", "room_id", roomID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *RedisAdapter) QueryReactions(ctx context.Context, roomID string) ([]domain.RoomReaction, error) {
	raws, err := a.queryRaw(ctx, roomID, TableReactions)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RoomReaction, 0, len(raws))
	for _, raw := range raws {
		var r domain.RoomReaction
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			a.log.Warn("skipping undecodable reaction row", "room_id", roomID, "error", err)
			continue
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		out = append(out, r)
	}
	return out, nil
}

func (a *RedisAdapter) QueryMessageReactions(ctx context.Context, roomID string) ([]domain.MessageReaction, error) {
	raws, err := a.queryRaw(ctx, roomID, TableMessageReactions)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MessageReaction, 0, len(raws))
	for _, raw := range raws {
		var r domain.MessageReaction
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			a.log.Warn("skipping undecodable message reaction row", "room_id", roomID, "error", err)
			continue
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		out = append(out, r)
	}
	return out, nil
}

// queryRaw returns the room's rows in timestamp order; ZRANGE by rank
// follows the UnixMilli scores assigned at insert time.
func (a *RedisAdapter) queryRaw(ctx context.Context, roomID string, table Table) ([]string, error) {
	raws, err := a.client.ZRange(ctx, roomKey(roomID, table), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("query %s for room %s: %w", table, roomID, err)
	}
	return raws, nil
}

func (a *RedisAdapter) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	msg = confirmMessage(msg)
	if err := a.insertRaw(ctx, msg.RoomID, TableMessages, msg, msg.Timestamp); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (a *RedisAdapter) InsertReaction(ctx context.Context, reaction domain.RoomReaction) (domain.RoomReaction, error) {
	reaction = confirmReaction(reaction)
	if err := a.insertRaw(ctx, reaction.RoomID, TableReactions, reaction, reaction.Timestamp); err != nil {
		return domain.RoomReaction{}, err
	}
	return reaction, nil
}

func (a *RedisAdapter) InsertMessageReaction(ctx context.Context, reaction domain.MessageReaction) (domain.MessageReaction, error) {
	reaction = confirmMessageReaction(reaction)
	if err := a.insertRaw(ctx, reaction.RoomID, TableMessageReactions, reaction, reaction.Timestamp); err != nil {
		return domain.MessageReaction{}, err
	}
	return reaction, nil
}

func (a *RedisAdapter) insertRaw(ctx context.Context, roomID string, table Table, row interface{}, ts time.Time) error {
	if roomID == "" {
		return fmt.Errorf("%s insert requires a room id", table)
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}

	key := roomKey(roomID, table)
	if err := a.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		return fmt.Errorf("insert into %s for room %s: %w", table, roomID, err)
	}
	if err := a.client.Expire(ctx, key, a.ttl).Err(); err != nil {
		a.log.Warn("failed to refresh history TTL", "key", key, "error", err)
	}

	env, err := json.Marshal(envelope{Origin: a.clientID, RoomID: roomID, Row: raw})
	if err != nil {
		return fmt.Errorf("marshal feed envelope: %w", err)
	}
	if err := a.client.Publish(ctx, feedChannel(roomID, table), env).Err(); err != nil {
		// The row is stored; peers will still see it on their next
		// hydration. Report the degraded propagation, not a failure.
		a.log.Warn("feed publish failed", "table", table, "room_id", roomID, "error", err)
	}
	return nil
}

func (a *RedisAdapter) Subscribe(ctx context.Context, table Table, roomID string, onInsert func(Event)) (func(), error) {
	pubsub := a.client.Subscribe(ctx, feedChannel(roomID, table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s for room %s: %w", table, roomID, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				a.log.Warn("dropping malformed feed envelope", "table", table, "error", err)
				continue
			}
			if env.Origin == a.clientID {
				continue
			}
			ev, err := decodeRow(table, env.Row)
			if err != nil {
				a.log.Warn("dropping invalid feed row", "table", table, "error", err)
				continue
			}
			onInsert(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}, nil
}
