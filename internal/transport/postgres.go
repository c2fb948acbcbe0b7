package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/pkg/logger"
)

// PostgresAdapter stores the three collections relationally and
// propagates inserts with pg_notify, one notification channel per
// table. Listeners filter to their room by the envelope's room id.
type PostgresAdapter struct {
	pool     *pgxpool.Pool
	clientID string
	log      logger.Logger
}

func NewPostgres(pool *pgxpool.Pool, log logger.Logger) *PostgresAdapter {
	return &PostgresAdapter{
		pool:     pool,
		clientID: newClientID(),
		log:      log,
	}
}

func (a *PostgresAdapter) Degraded() bool { return false }

// EnsureSchema creates the chat tables when they do not exist yet.
func (a *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id         text PRIMARY KEY,
			room_id    text NOT NULL,
			user_id    text NOT NULL,
			body       text NOT NULL,
			is_host    boolean NOT NULL DEFAULT false,
			host_name  text NOT NULL DEFAULT '',
			mentions   text[] NOT NULL DEFAULT '{}',
			created_at timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_messages_room_idx ON chat_messages (room_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_reactions (
			id         text PRIMARY KEY,
			room_id    text NOT NULL,
			kind       text NOT NULL,
			created_at timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_reactions_room_idx ON chat_reactions (room_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_message_reactions (
			id         text PRIMARY KEY,
			room_id    text NOT NULL,
			message_id text NOT NULL,
			user_id    text NOT NULL,
			kind       text NOT NULL DEFAULT 'like',
			created_at timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_message_reactions_room_idx ON chat_message_reactions (room_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure chat schema: %w", err)
		}
	}
	return nil
}

func (a *PostgresAdapter) QueryMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, body, created_at, user_id, room_id, is_host, host_name, mentions
		   FROM chat_messages WHERE room_id = $1 ORDER BY created_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Text, &m.Timestamp, &m.UserID, &m.RoomID, &m.IsHost, &m.HostName, &m.Mentions); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read message rows: %w", err)
	}
	return out, nil
}

func (a *PostgresAdapter) QueryReactions(ctx context.Context, roomID string) ([]domain.RoomReaction, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, kind, created_at, room_id
		   FROM chat_reactions WHERE room_id = $1 ORDER BY created_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query reactions for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var out []domain.RoomReaction
	for rows.Next() {
		var r domain.RoomReaction
		if err := rows.Scan(&r.ID, &r.Type, &r.Timestamp, &r.RoomID); err != nil {
			return nil, fmt.Errorf("scan reaction row: %w", err)
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reaction rows: %w", err)
	}
	return out, nil
}

func (a *PostgresAdapter) QueryMessageReactions(ctx context.Context, roomID string) ([]domain.MessageReaction, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, message_id, user_id, room_id, created_at, kind
		   FROM chat_message_reactions WHERE room_id = $1 ORDER BY created_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query message reactions for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var out []domain.MessageReaction
	for rows.Next() {
		var r domain.MessageReaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.RoomID, &r.Timestamp, &r.Type); err != nil {
			return nil, fmt.Errorf("scan message reaction row: %w", err)
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read message reaction rows: %w", err)
	}
	return out, nil
}

func (a *PostgresAdapter) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.RoomID == "" {
		return domain.Message{}, fmt.Errorf("message insert requires a room id")
	}
	msg = confirmMessage(msg)

	mentions := msg.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, room_id, user_id, body, is_host, host_name, mentions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.RoomID, msg.UserID, msg.Text, msg.IsHost, msg.HostName, mentions, msg.Timestamp)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message for room %s: %w", msg.RoomID, err)
	}

	a.notify(ctx, TableMessages, msg.RoomID, msg)
	return msg, nil
}

func (a *PostgresAdapter) InsertReaction(ctx context.Context, reaction domain.RoomReaction) (domain.RoomReaction, error) {
	if reaction.RoomID == "" {
		return domain.RoomReaction{}, fmt.Errorf("reaction insert requires a room id")
	}
	reaction = confirmReaction(reaction)

	_, err := a.pool.Exec(ctx,
		`INSERT INTO chat_reactions (id, room_id, kind, created_at) VALUES ($1, $2, $3, $4)`,
		reaction.ID, reaction.RoomID, reaction.Type, reaction.Timestamp)
	if err != nil {
		return domain.RoomReaction{}, fmt.Errorf("insert reaction for room %s: %w", reaction.RoomID, err)
	}

	a.notify(ctx, TableReactions, reaction.RoomID, reaction)
	return reaction, nil
}

func (a *PostgresAdapter) InsertMessageReaction(ctx context.Context, reaction domain.MessageReaction) (domain.MessageReaction, error) {
	if reaction.RoomID == "" {
		return domain.MessageReaction{}, fmt.Errorf("message reaction insert requires a room id")
	}
	reaction = confirmMessageReaction(reaction)

	_, err := a.pool.Exec(ctx,
		`INSERT INTO chat_message_reactions (id, room_id, message_id, user_id, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reaction.ID, reaction.RoomID, reaction.MessageID, reaction.UserID, reaction.Type, reaction.Timestamp)
	if err != nil {
		return domain.MessageReaction{}, fmt.Errorf("insert message reaction for room %s: %w", reaction.RoomID, err)
	}

	a.notify(ctx, TableMessageReactions, reaction.RoomID, reaction)
	return reaction, nil
}

func (a *PostgresAdapter) notify(ctx context.Context, table Table, roomID string, row interface{}) {
	raw, err := json.Marshal(row)
	if err != nil {
		a.log.Error("feed row serialization failed", "table", table, "error", err)
		return
	}
	env, err := json.Marshal(envelope{Origin: a.clientID, RoomID: roomID, Row: raw})
	if err != nil {
		a.log.Error("feed envelope serialization failed", "table", table, "error", err)
		return
	}
	// The row is committed; a lost notification only delays peers
	// until their next hydration.
	if _, err := a.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel(table), string(env)); err != nil {
		a.log.Warn("feed notify failed", "table", table, "room_id", roomID, "error", err)
	}
}

func notifyChannel(table Table) string {
	return "chat_feed_" + string(table)
}

func (a *PostgresAdapter) Subscribe(ctx context.Context, table Table, roomID string, onInsert func(Event)) (func(), error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel(table)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", notifyChannel(table), err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					a.log.Warn("feed listener stopped", "table", table, "room_id", roomID, "error", err)
				}
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(n.Payload), &env); err != nil {
				a.log.Warn("dropping malformed feed envelope", "table", table, "error", err)
				continue
			}
			if env.Origin == a.clientID || env.RoomID != roomID {
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
		once.Do(cancel)
	}, nil
}
