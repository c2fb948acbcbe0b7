package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/transport"
	errs "ephemeral_chat/pkg/errors"
	"ephemeral_chat/pkg/logger"
)

// fakeAdapter scripts hydration rows, insert outcomes, and lets tests
// push feed events into the engine's subscriptions.
type fakeAdapter struct {
	mu sync.Mutex

	degraded bool

	hydrateMessages         []domain.Message
	hydrateReactions        []domain.RoomReaction
	hydrateMessageReactions []domain.MessageReaction
	queryErr                map[transport.Table]error

	insertErr  error
	insertSeq  int
	insertSeen []string

	subs        map[transport.Table]func(transport.Event)
	subErr      error
	queryCalls  int
	subCalls    int
	unsubCounts map[transport.Table]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		queryErr:    make(map[transport.Table]error),
		subs:        make(map[transport.Table]func(transport.Event)),
		unsubCounts: make(map[transport.Table]int),
	}
}

func (f *fakeAdapter) Degraded() bool { return f.degraded }

func (f *fakeAdapter) QueryMessages(_ context.Context, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if err := f.queryErr[transport.TableMessages]; err != nil {
		return nil, err
	}
	return f.hydrateMessages, nil
}

func (f *fakeAdapter) QueryReactions(_ context.Context, _ string) ([]domain.RoomReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if err := f.queryErr[transport.TableReactions]; err != nil {
		return nil, err
	}
	return f.hydrateReactions, nil
}

func (f *fakeAdapter) QueryMessageReactions(_ context.Context, _ string) ([]domain.MessageReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if err := f.queryErr[transport.TableMessageReactions]; err != nil {
		return nil, err
	}
	return f.hydrateMessageReactions, nil
}

func (f *fakeAdapter) confirmID() string {
	f.insertSeq++
	return fmt.Sprintf("srv-%d", f.insertSeq)
}

func (f *fakeAdapter) InsertMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertSeen = append(f.insertSeen, string(transport.TableMessages))
	if f.insertErr != nil {
		return domain.Message{}, f.insertErr
	}
	msg.ID = f.confirmID()
	msg.Timestamp = time.Now().UTC()
	return msg, nil
}

func (f *fakeAdapter) InsertReaction(_ context.Context, r domain.RoomReaction) (domain.RoomReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertSeen = append(f.insertSeen, string(transport.TableReactions))
	if f.insertErr != nil {
		return domain.RoomReaction{}, f.insertErr
	}
	r.ID = f.confirmID()
	return r, nil
}

func (f *fakeAdapter) InsertMessageReaction(_ context.Context, r domain.MessageReaction) (domain.MessageReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertSeen = append(f.insertSeen, string(transport.TableMessageReactions))
	if f.insertErr != nil {
		return domain.MessageReaction{}, f.insertErr
	}
	r.ID = f.confirmID()
	return r, nil
}

func (f *fakeAdapter) Subscribe(_ context.Context, table transport.Table, _ string, onInsert func(transport.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subs[table] = onInsert
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubCounts[table]++
	}, nil
}

// push delivers a feed event the way a provider goroutine would.
func (f *fakeAdapter) push(ev transport.Event) {
	f.mu.Lock()
	fn := f.subs[ev.Table]
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func msgAt(id, text, user string, ts time.Time) domain.Message {
	return domain.Message{ID: id, Text: text, UserID: user, RoomID: "A", Timestamp: ts}
}

func startedEngine(t *testing.T, f *fakeAdapter) *Engine {
	t.Helper()
	e := New("A", "local", f, logger.NewNop())
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Close)
	return e
}

func TestStart_HydratesAndTagsOwnership(t *testing.T) {
	base := time.Now().UTC()
	f := newFakeAdapter()
	f.hydrateMessages = []domain.Message{
		msgAt("m1", "one", "local", base),
		msgAt("m2", "two", "H2", base.Add(time.Second)),
	}

	e := startedEngine(t, f)

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsOwn, "message authored by the local handle")
	assert.False(t, msgs[1].IsOwn, "message authored by someone else")
	assert.Equal(t, 3, f.subCalls, "one subscription per table")
}

func TestMerge_DedupIdempotence(t *testing.T) {
	base := time.Now().UTC()
	f := newFakeAdapter()
	f.hydrateMessages = []domain.Message{
		msgAt("m1", "one", "H1", base),
		msgAt("m2", "two", "H2", base.Add(time.Second)),
		msgAt("m3", "three", "H3", base.Add(2*time.Second)),
	}

	e := startedEngine(t, f)

	// A feed echo of an already-present row changes nothing.
	m2 := msgAt("m2", "two", "H2", base.Add(time.Second))
	f.push(transport.Event{Table: transport.TableMessages, Message: &m2})

	msgs := e.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestStart_PartialHydrationTolerance(t *testing.T) {
	f := newFakeAdapter()
	f.hydrateMessages = []domain.Message{msgAt("m1", "one", "H1", time.Now().UTC())}
	f.queryErr[transport.TableReactions] = fmt.Errorf("reactions table on fire")

	e := startedEngine(t, f)

	assert.NotEmpty(t, e.Messages(), "messages survive a failed reactions query")
	assert.Empty(t, e.Reactions())
	assert.Equal(t, 3, f.subCalls, "subscriptions still open for every table")
}

func TestStart_SubscribeFailureIsNonFatal(t *testing.T) {
	f := newFakeAdapter()
	f.subErr = fmt.Errorf("feed down")

	e := New("A", "local", f, logger.NewNop())
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()
}

func TestStart_Twice(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	assert.ErrorIs(t, e.Start(context.Background()), errs.ErrEngineStarted)
}

func TestStart_DegradedSeedsSystemMessage(t *testing.T) {
	f := newFakeAdapter()
	f.degraded = true

	e := startedEngine(t, f)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SystemAuthor, msgs[0].UserID)
	assert.True(t, domain.IsProvisionalID(msgs[0].ID), "system message is never persisted")
	assert.Zero(t, f.queryCalls, "no hydration queries in degraded mode")
	assert.Zero(t, f.subCalls, "no feed subscriptions in degraded mode")
}

func TestSendMessage_OptimisticVisibilityDegraded(t *testing.T) {
	f := newFakeAdapter()
	f.degraded = true
	e := startedEngine(t, f)

	msg, err := e.SendMessage(context.Background(), "hello", SendOptions{})
	require.NoError(t, err)

	msgs := e.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "hello", last.Text)
	assert.True(t, last.IsOwn)
	assert.Equal(t, msg.ID, last.ID)
}

func TestSendMessage_RetiresProvisionalInPlace(t *testing.T) {
	f := newFakeAdapter()
	f.hydrateMessages = []domain.Message{msgAt("m1", "earlier", "H1", time.Now().UTC())}
	e := startedEngine(t, f)

	msg, err := e.SendMessage(context.Background(), "hello", SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", msg.ID)
	assert.Zero(t, e.PendingCount())

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID, "confirmation must not reorder the collection")
	assert.Equal(t, "srv-1", msgs[1].ID)
	assert.False(t, domain.IsProvisionalID(msgs[1].ID))
	assert.True(t, msgs[1].IsOwn)
}

func TestSendMessage_ConfirmedFeedEchoDeduped(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	msg, err := e.SendMessage(context.Background(), "hello", SendOptions{})
	require.NoError(t, err)

	// A leaked echo of the confirmed row must be absorbed by dedup.
	echo := msg
	f.push(transport.Event{Table: transport.TableMessages, Message: &echo})

	assert.Len(t, e.Messages(), 1)
}

func TestSendMessage_KeepsOptimisticCopyOnFailure(t *testing.T) {
	f := newFakeAdapter()
	f.insertErr = fmt.Errorf("network unplugged")
	e := startedEngine(t, f)

	msg, err := e.SendMessage(context.Background(), "hello", SendOptions{})
	require.Error(t, err)

	// Never silently dropped: the optimistic copy stays visible.
	assert.True(t, domain.IsProvisionalID(msg.ID))
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Zero(t, e.PendingCount(), "a failed write is terminal, not pending")
}

func TestSendMessage_RejectsBlankText(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	_, err := e.SendMessage(context.Background(), "   \n\t", SendOptions{})
	assert.ErrorIs(t, err, errs.ErrEmptyMessage)
	assert.Empty(t, e.Messages())
}

func TestSendMessage_CarriesOptions(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	msg, err := e.SendMessage(context.Background(), "welcome", SendOptions{
		Mentions:   []string{"H2"},
		IsFromHost: true,
		HostName:   "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"H2"}, msg.Mentions)
	assert.True(t, msg.IsHost)
	assert.Equal(t, "Alice", msg.HostName)
}

func TestAddReaction_InvalidType(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	_, err := e.AddReaction(context.Background(), "heart")
	assert.ErrorIs(t, err, errs.ErrInvalidReactionType)
	assert.Empty(t, e.Reactions())
}

func TestAddReaction_Confirmed(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	r, err := e.AddReaction(context.Background(), domain.ReactionIdea)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", r.ID)

	reactions := e.Reactions()
	require.Len(t, reactions, 1)
	assert.Equal(t, domain.ReactionIdea, reactions[0].Type)
}

func TestAddMessageReaction_UnknownTargetAllowed(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	// The target may still be in flight on the messages feed.
	r, err := e.AddMessageReaction(context.Background(), "not-seen-yet", domain.ReactionQuestion, "")
	require.NoError(t, err)
	assert.Equal(t, "not-seen-yet", r.MessageID)
	assert.Equal(t, "local", r.UserID)
	assert.Len(t, e.MessageReactions(), 1)
}

func TestAddMessageReaction_MultiplePerParticipant(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	_, err := e.AddMessageReaction(context.Background(), "m1", domain.ReactionLike, "H1")
	require.NoError(t, err)
	_, err = e.AddMessageReaction(context.Background(), "m1", domain.ReactionLike, "H1")
	require.NoError(t, err)

	assert.Len(t, e.MessageReactions(), 2, "uniqueness is by id only")
}

func TestFeedMessageReaction_DefaultTypeBackCompat(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	r := domain.MessageReaction{ID: "r1", MessageID: "m1", UserID: "H2", RoomID: "A"}
	f.push(transport.Event{Table: transport.TableMessageReactions, MessageReaction: &r})

	reactions := e.MessageReactions()
	require.Len(t, reactions, 1)
	assert.Equal(t, domain.ReactionLike, reactions[0].Type)
}

func TestClose_DiscardsLateEventsAndReleasesSubscriptions(t *testing.T) {
	f := newFakeAdapter()
	e := New("A", "local", f, logger.NewNop())
	require.NoError(t, e.Start(context.Background()))

	e.Close()
	e.Close() // idempotent

	for table, n := range f.unsubCounts {
		assert.Equal(t, 1, n, "unsubscribe invoked exactly once for %s", table)
	}
	assert.Len(t, f.unsubCounts, 3)

	// An event resolving after the switch must never be merged.
	late := msgAt("late", "too late", "H9", time.Now().UTC())
	f.push(transport.Event{Table: transport.TableMessages, Message: &late})
	assert.Empty(t, e.Messages())

	_, err := e.SendMessage(context.Background(), "hello", SendOptions{})
	assert.ErrorIs(t, err, errs.ErrEngineClosed)
}

func TestRoomIsolation_AcrossEngines(t *testing.T) {
	fa := newFakeAdapter()
	fb := newFakeAdapter()

	a := New("A", "local", fa, logger.NewNop())
	require.NoError(t, a.Start(context.Background()))
	b := New("B", "local", fb, logger.NewNop())
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	// Simulate switching from A to B, with A's event resolving late.
	a.Close()
	lateA := msgAt("a1", "stale", "H1", time.Now().UTC())
	fa.push(transport.Event{Table: transport.TableMessages, Message: &lateA})

	fresh := domain.Message{ID: "b1", Text: "fresh", UserID: "H2", RoomID: "B", Timestamp: time.Now().UTC()}
	fb.push(transport.Event{Table: transport.TableMessages, Message: &fresh})

	assert.Empty(t, a.Messages())
	msgs := b.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "b1", msgs[0].ID)
}

func TestWatch_NotifiesAndUnregisters(t *testing.T) {
	f := newFakeAdapter()
	e := startedEngine(t, f)

	var mu sync.Mutex
	var got []Event
	unwatch := e.Watch(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	m := msgAt("m1", "one", "H1", time.Now().UTC())
	f.push(transport.Event{Table: transport.TableMessages, Message: &m})

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, transport.TableMessages, got[0].Table)
	assert.Equal(t, KindRemote, got[0].Kind)
	mu.Unlock()

	unwatch()
	m2 := msgAt("m2", "two", "H1", time.Now().UTC())
	f.push(transport.Event{Table: transport.TableMessages, Message: &m2})

	mu.Lock()
	assert.Len(t, got, 1, "unregistered watcher stays quiet")
	mu.Unlock()
}

func TestSnapshots_AreCopies(t *testing.T) {
	f := newFakeAdapter()
	f.hydrateMessages = []domain.Message{msgAt("m1", "one", "H1", time.Now().UTC())}
	e := startedEngine(t, f)

	snap := e.Messages()
	snap[0].Text = "mutated"

	assert.Equal(t, "one", e.Messages()[0].Text)
}
