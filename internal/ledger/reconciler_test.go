package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/data/datatest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestReconcilerRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var convs []*data.Conversation
	for i := 0; i < 7; i++ {
		other := f.mem.AddUser(string(rune('a'+i))+"-peer@example.com", "Peer")
		conv, err := f.ledger.GetOrCreate(ctx, f.alice.ID, other.ID)
		require.NoError(t, err)
		f.send(t, conv, other.ID, "hello")
		f.send(t, conv, other.ID, "again")
		convs = append(convs, conv)
	}

	// corrupt every counter
	for _, c := range convs {
		f.mem.SetUnread(c.ID, f.alice.ID, 42)
	}

	r := NewReconciler(f.ledger, ReconcilerConfig{BatchSize: 3, Workers: 2})
	stats, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Scanned)
	assert.Zero(t, stats.Failed)

	for _, c := range convs {
		got, err := f.mem.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Unread(f.alice.ID))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t)
	f.send(t, conv, f.alice.ID, "one")
	f.send(t, conv, f.bob.ID, "two")

	require.NoError(t, f.ledger.Reconcile(ctx, conv.ID))
	first, _ := f.mem.GetConversation(ctx, conv.ID)
	require.NoError(t, f.ledger.Reconcile(ctx, conv.ID))
	second, _ := f.mem.GetConversation(ctx, conv.ID)

	assert.Equal(t, first.UnreadCounts, second.UnreadCounts)
	assert.Equal(t, first.LastMessage, second.LastMessage)
	assert.Equal(t, int64(1), second.Unread(f.alice.ID))
	assert.Equal(t, int64(1), second.Unread(f.bob.ID))
}

func TestReconcilerStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.conversation(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReconciler(f.ledger, ReconcilerConfig{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// interleavedStore runs beforeWrite ahead of summary writes, standing in for
// live traffic that lands between Reconcile's reads and its write.
type interleavedStore struct {
	*datatest.Store
	beforeWrite func()
}

func (s *interleavedStore) SetConversationSummary(ctx context.Context, id bson.ObjectID, version int64, last *data.LastMessage, unread map[string]int64) error {
	s.beforeWrite()
	return s.Store.SetConversationSummary(ctx, id, version, last, unread)
}

func TestReconcileDoesNotLoseConcurrentSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t)
	f.send(t, conv, f.alice.ID, "one")

	var once sync.Once
	store := &interleavedStore{Store: f.mem}
	store.beforeWrite = func() {
		once.Do(func() { f.send(t, conv, f.alice.ID, "two") })
	}
	reconciling := New(store, f.mem, f.mem, WithRetryPolicy(noRetry))

	require.NoError(t, reconciling.Reconcile(ctx, conv.ID))

	got, _ := f.mem.GetConversation(ctx, conv.ID)
	assert.Equal(t, int64(2), got.Unread(f.bob.ID), "the send's increment must survive")
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "two", got.LastMessage.Content)
}

func TestReconcileGivesUpWhenConversationKeepsChanging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t)

	store := &interleavedStore{Store: f.mem}
	store.beforeWrite = func() {
		require.NoError(t, f.mem.ResetUnread(ctx, conv.ID, f.bob.ID))
	}
	reconciling := New(store, f.mem, f.mem, WithRetryPolicy(noRetry))

	err := reconciling.Reconcile(ctx, conv.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}
