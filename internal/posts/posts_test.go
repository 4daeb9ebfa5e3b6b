package posts

import (
	"context"
	"sync"
	"testing"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/data/datatest"
	"github.com/PaulBabatuyi/fellowship/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type fixture struct {
	svc                      *Service
	mem                      *datatest.Store
	author, friend, stranger *data.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := datatest.New()
	g := graph.NewStore(mem, mem)

	f := &fixture{
		svc:      New(mem, g, nil),
		mem:      mem,
		author:   mem.AddUser("author@example.com", "Author"),
		friend:   mem.AddUser("friend@example.com", "Friend"),
		stranger: mem.AddUser("stranger@example.com", "Stranger"),
	}

	c, err := g.RequestConnection(context.Background(), f.author.ID, f.friend.ID, "")
	require.NoError(t, err)
	_, err = g.Respond(context.Background(), c.ID, f.friend.ID, graph.ActionAccept)
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, v data.Visibility) *data.Post {
	t.Helper()
	p, err := f.svc.Create(context.Background(), f.author.ID, "hello", nil, v)
	require.NoError(t, err)
	return p
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.author.ID, " <script>x</script> ", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "&lt;script&gt;x&lt;/script&gt;", p.Content)
	assert.Equal(t, data.VisibilityPublic, p.Visibility)
	assert.Equal(t, data.ModerationApproved, p.Moderation.Status)
	assert.True(t, p.IsActive)

	_, err = f.svc.Create(ctx, f.author.ID, "", []data.Media{{URL: "https://cdn/x.png", Type: "image"}}, data.VisibilityConnections)
	assert.NoError(t, err, "media-only posts are allowed")

	_, err = f.svc.Create(ctx, f.author.ID, "  ", nil, "")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = f.svc.Create(ctx, f.author.ID, "x", nil, data.Visibility("friends"))
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	public := f.create(t, data.VisibilityPublic)
	conns := f.create(t, data.VisibilityConnections)
	private := f.create(t, data.VisibilityPrivate)

	tests := []struct {
		name   string
		viewer bson.ObjectID
		post   *data.Post
		kind   apperr.Kind
	}{
		{"stranger public", f.stranger.ID, public, ""},
		{"anonymous public", bson.NilObjectID, public, ""},
		{"friend connections", f.friend.ID, conns, ""},
		{"stranger connections", f.stranger.ID, conns, apperr.KindForbidden},
		{"friend private", f.friend.ID, private, apperr.KindForbidden},
		{"author private", f.author.ID, private, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Get(ctx, tt.viewer, tt.post.ID)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
		})
	}

	_, err := f.svc.Get(ctx, f.author.ID, bson.NewObjectID())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRemovedAndDeletedAreUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := data.Actor{ID: bson.NewObjectID(), Role: data.RoleAdmin}

	removed := f.create(t, data.VisibilityPublic)
	deleted := f.create(t, data.VisibilityPublic)

	err := f.svc.Moderate(ctx, f.friend.Actor(), removed.ID, data.ModerationRemoved, "")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	require.NoError(t, f.svc.Moderate(ctx, mod, removed.ID, data.ModerationRemoved, "abuse"))

	err = f.svc.Delete(ctx, f.stranger.Actor(), deleted.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	require.NoError(t, f.svc.Delete(ctx, f.author.Actor(), deleted.ID))

	for _, id := range []bson.ObjectID{removed.ID, deleted.ID} {
		_, err := f.svc.Get(ctx, f.author.ID, id)
		assert.True(t, apperr.IsKind(err, apperr.KindUnavailable), "got %v", err)
	}
}

func TestShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	public := f.create(t, data.VisibilityPublic)
	conns := f.create(t, data.VisibilityConnections)

	got, err := f.svc.Shared(ctx, public.ID)
	require.NoError(t, err)
	assert.Equal(t, public.ID, got.ID)

	for _, id := range []bson.ObjectID{conns.ID, bson.NewObjectID()} {
		_, err := f.svc.Shared(ctx, id)
		assert.True(t, apperr.IsKind(err, apperr.KindUnavailable), "got %v", err)
	}
}

func TestCommentsAndRepliesInheritVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conns := f.create(t, data.VisibilityConnections)

	_, err := f.svc.Comment(ctx, f.stranger.ID, conns.ID, "hi")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	c, err := f.svc.Comment(ctx, f.friend.ID, conns.ID, "praying")
	require.NoError(t, err)

	_, err = f.svc.Reply(ctx, f.stranger.ID, conns.ID, c.ID, "me too")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.Reply(ctx, f.author.ID, conns.ID, c.ID, "thank you")
	require.NoError(t, err)

	_, err = f.svc.Reply(ctx, f.author.ID, conns.ID, bson.NewObjectID(), "lost")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.svc.Comment(ctx, f.friend.ID, conns.ID, "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	p, err := f.mem.GetPost(ctx, conns.ID)
	require.NoError(t, err)
	require.Len(t, p.Comments, 1)
	assert.Len(t, p.Comments[0].Replies, 1)
}

func TestToggleLike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, data.VisibilityPublic)

	liked, n, err := f.svc.ToggleLike(ctx, f.stranger.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, n)

	liked, n, err = f.svc.ToggleLike(ctx, f.stranger.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, n)

	private := f.create(t, data.VisibilityPrivate)
	_, _, err = f.svc.ToggleLike(ctx, f.stranger.ID, private.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestToggleLikeConcurrentNeverDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, data.VisibilityPublic)

	const toggles = 11
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.ToggleLike(ctx, f.friend.ID, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.mem.GetPost(ctx, p.ID)
	require.NoError(t, err)
	// an odd number of toggles leaves exactly one like
	assert.Len(t, got.Likes, 1)
	assert.True(t, got.LikedBy(f.friend.ID))
}

func TestSetPinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, data.VisibilityPublic)

	err := f.svc.SetPinned(ctx, f.author.Actor(), p.ID, true)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	mod := data.Actor{ID: bson.NewObjectID(), Role: data.RoleModerator}
	require.NoError(t, f.svc.SetPinned(ctx, mod, p.ID, true))

	got, _ := f.mem.GetPost(ctx, p.ID)
	assert.True(t, got.IsPinned)

	err = f.svc.SetPinned(ctx, mod, bson.NewObjectID(), true)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
