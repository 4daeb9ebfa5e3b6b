package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/auth"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/data/datatest"
	"github.com/PaulBabatuyi/fellowship/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type testEnv struct {
	mem  *datatest.Store
	srv  *Server
	conn *grpc.ClientConn
}

func memStores(mem *datatest.Store) Stores {
	return Stores{Users: mem, Connections: mem, Posts: mem, Conversations: mem, Messages: mem}
}

// startServer runs the full service over bufconn, backed by an in-memory
// store.
func startServer(t *testing.T) *testEnv {
	t.Helper()

	mem := datatest.New()
	logger := zaptest.NewLogger(t)
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	srv := newServer(memStores(mem), jwtMgr, NewConnectionHub(), logger, serverOptions{})

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.LoggingUnaryInterceptor(logger),
			authUnaryInterceptor(jwtMgr, mem),
		),
		grpc.ChainStreamInterceptor(
			middleware.LoggingStreamInterceptor(logger),
			authStreamInterceptor(jwtMgr, mem),
		),
	)
	registerService(s, srv)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(s, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		_ = s.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.Stop()
	})
	return &testEnv{mem: mem, srv: srv, conn: conn}
}

func (e *testEnv) call(t *testing.T, token, method string, req, resp interface{}) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return e.conn.Invoke(ctx, fullMethod(method), req, resp)
}

func (e *testEnv) mustCall(t *testing.T, token, method string, req, resp interface{}) {
	t.Helper()
	require.NoError(t, e.call(t, token, method, req, resp), method)
}

func (e *testEnv) register(t *testing.T, name string) *AuthResponse {
	t.Helper()
	var resp AuthResponse
	e.mustCall(t, "", "Register", &AuthRequest{
		Email:       name + "@example.com",
		Password:    "password-" + name,
		DisplayName: name,
	}, &resp)
	require.NotEmpty(t, resp.Token)
	return &resp
}

func oid(t *testing.T, hex string) bson.ObjectID {
	t.Helper()
	id, err := bson.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

func assertCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), err.Error())
}

func TestRegisterLoginAndProfile(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")

	err := env.call(t, "", "Register", &AuthRequest{Email: "ALICE@example.com", Password: "another-pass"}, &AuthResponse{})
	assertCode(t, codes.AlreadyExists, err)

	err = env.call(t, "", "Register", &AuthRequest{Email: "short@example.com", Password: "x"}, &AuthResponse{})
	assertCode(t, codes.InvalidArgument, err)

	err = env.call(t, "", "Login", &AuthRequest{Email: "alice@example.com", Password: "wrong"}, &AuthResponse{})
	assertCode(t, codes.PermissionDenied, err)

	var login AuthResponse
	env.mustCall(t, "", "Login", &AuthRequest{Email: " Alice@Example.com ", Password: "password-alice"}, &login)
	assert.Equal(t, alice.UserID, login.UserID)
	require.NotNil(t, login.ExpiresAt)
	assert.True(t, login.ExpiresAt.AsTime().After(time.Now()))

	var self Profile
	env.mustCall(t, login.Token, "GetProfile", &UserRequest{}, &self)
	assert.Equal(t, "alice", self.DisplayName)
	assert.Equal(t, "public", self.ProfileVisibility)

	// public profiles are visible anonymously
	var anon Profile
	env.mustCall(t, "", "GetProfile", &UserRequest{UserID: alice.UserID}, &anon)
	assert.Equal(t, alice.UserID, anon.ID)

	var updated Profile
	env.mustCall(t, alice.Token, "UpdatePrivacy", &UpdatePrivacyRequest{ProfileVisibility: "private"}, &updated)
	assert.Equal(t, "private", updated.ProfileVisibility)
	assert.False(t, updated.ShowPrayerRequests)

	err = env.call(t, "", "GetProfile", &UserRequest{UserID: alice.UserID}, &Profile{})
	assertCode(t, codes.PermissionDenied, err)

	err = env.call(t, alice.Token, "UpdatePrivacy", &UpdatePrivacyRequest{ProfileVisibility: "friends"}, &Profile{})
	assertCode(t, codes.InvalidArgument, err)
}

func TestAuthentication(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")

	err := env.call(t, "", "CreatePost", &CreatePostRequest{Content: "hi"}, &PostView{})
	assertCode(t, codes.Unauthenticated, err)

	err = env.call(t, "not-a-token", "CreatePost", &CreatePostRequest{Content: "hi"}, &PostView{})
	assertCode(t, codes.Unauthenticated, err)

	// a bad token on a public method is still rejected
	err = env.call(t, "not-a-token", "Feed", &FeedRequest{}, &FeedResponse{})
	assertCode(t, codes.Unauthenticated, err)

	// deactivation applies to live tokens
	require.NoError(t, env.mem.SetUserActive(context.Background(), oid(t, alice.UserID), false))
	err = env.call(t, alice.Token, "CreatePost", &CreatePostRequest{Content: "hi"}, &PostView{})
	assertCode(t, codes.PermissionDenied, err)

	err = env.call(t, "", "Login", &AuthRequest{Email: "alice@example.com", Password: "password-alice"}, &AuthResponse{})
	assertCode(t, codes.PermissionDenied, err)
}

func TestConnectionsAndFeed(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	var req ConnectionView
	env.mustCall(t, alice.Token, "RequestConnection", &ConnectionRequest{UserID: bob.UserID, Message: "<b>hi</b>"}, &req)
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", req.Message)

	err := env.call(t, bob.Token, "RequestConnection", &ConnectionRequest{UserID: alice.UserID}, &ConnectionView{})
	assertCode(t, codes.AlreadyExists, err)

	var pending PendingResponse
	env.mustCall(t, bob.Token, "PendingConnections", &PendingRequest{}, &pending)
	require.Len(t, pending.Connections, 1)
	assert.Equal(t, req.ID, pending.Connections[0].ID)

	var st StatusResponse
	env.mustCall(t, alice.Token, "ConnectionStatus", &UserRequest{UserID: bob.UserID}, &st)
	assert.Equal(t, "sent", st.Relation)
	env.mustCall(t, bob.Token, "ConnectionStatus", &UserRequest{UserID: alice.UserID}, &st)
	assert.Equal(t, "received", st.Relation)

	// only the recipient can respond
	err = env.call(t, alice.Token, "RespondConnection", &RespondRequest{ConnectionID: req.ID, Action: "accept"}, &ConnectionView{})
	assertCode(t, codes.NotFound, err)

	var accepted ConnectionView
	env.mustCall(t, bob.Token, "RespondConnection", &RespondRequest{ConnectionID: req.ID, Action: "accept"}, &accepted)
	assert.Equal(t, "accepted", accepted.Status)
	require.NotNil(t, accepted.RespondedAt)

	env.mustCall(t, alice.Token, "ConnectionStatus", &UserRequest{UserID: bob.UserID}, &st)
	assert.Equal(t, "connected", st.Relation)

	var private, public PostView
	env.mustCall(t, bob.Token, "CreatePost", &CreatePostRequest{Content: "for friends", Visibility: "connections"}, &private)
	env.mustCall(t, carol.Token, "CreatePost", &CreatePostRequest{Content: "for everyone"}, &public)

	var feed FeedResponse
	env.mustCall(t, alice.Token, "Feed", &FeedRequest{}, &feed)
	assert.ElementsMatch(t, []string{private.ID, public.ID}, postIDs(feed.Posts))

	env.mustCall(t, carol.Token, "Feed", &FeedRequest{}, &feed)
	assert.Equal(t, []string{public.ID}, postIDs(feed.Posts))

	env.mustCall(t, "", "Feed", &FeedRequest{}, &feed)
	assert.Equal(t, []string{public.ID}, postIDs(feed.Posts))

	err = env.call(t, alice.Token, "Feed", &FeedRequest{Scope: "everything"}, &FeedResponse{})
	assertCode(t, codes.InvalidArgument, err)

	err = env.call(t, carol.Token, "GetPost", &PostRequest{PostID: private.ID}, &PostView{})
	assertCode(t, codes.PermissionDenied, err)

	env.mustCall(t, alice.Token, "RemoveConnection", &UserRequest{UserID: bob.UserID}, &Empty{})
	env.mustCall(t, alice.Token, "Feed", &FeedRequest{Scope: "connections"}, &feed)
	assert.Empty(t, feed.Posts)

	err = env.call(t, alice.Token, "RemoveConnection", &UserRequest{UserID: bob.UserID}, &Empty{})
	assertCode(t, codes.NotFound, err)
}

func TestMutualConnections(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	connect := func(from, to *AuthResponse) {
		var c ConnectionView
		env.mustCall(t, from.Token, "RequestConnection", &ConnectionRequest{UserID: to.UserID}, &c)
		env.mustCall(t, to.Token, "RespondConnection", &RespondRequest{ConnectionID: c.ID, Action: "accept"}, &ConnectionView{})
	}
	connect(alice, carol)
	connect(bob, carol)

	var mutual MutualResponse
	env.mustCall(t, alice.Token, "MutualConnections", &UserRequest{UserID: bob.UserID}, &mutual)
	assert.Equal(t, 1, mutual.Count)
}

func postIDs(posts []*PostView) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestPostInteractions(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	mod := env.register(t, "mod")
	require.NoError(t, env.mem.SetUserRole(context.Background(), oid(t, mod.UserID), data.RoleModerator))

	var post PostView
	env.mustCall(t, alice.Token, "CreatePost", &CreatePostRequest{
		Content: "hello",
		Media:   []*MediaView{{URL: "https://cdn.example.com/a.png", Type: "image"}},
	}, &post)
	require.Len(t, post.Media, 1)

	var comment CommentView
	env.mustCall(t, bob.Token, "CommentOnPost", &CommentRequest{PostID: post.ID, Content: "nice"}, &comment)
	var reply ReplyView
	env.mustCall(t, alice.Token, "ReplyToComment", &CommentRequest{PostID: post.ID, CommentID: comment.ID, Content: "thanks"}, &reply)

	var like LikeResponse
	env.mustCall(t, bob.Token, "TogglePostLike", &PostRequest{PostID: post.ID}, &like)
	assert.Equal(t, LikeResponse{Liked: true, LikeCount: 1}, like)

	var got PostView
	env.mustCall(t, bob.Token, "GetPost", &PostRequest{PostID: post.ID}, &got)
	assert.True(t, got.Liked)
	require.Len(t, got.Comments, 1)
	require.Len(t, got.Comments[0].Replies, 1)
	assert.Equal(t, reply.ID, got.Comments[0].Replies[0].ID)

	env.mustCall(t, bob.Token, "TogglePostLike", &PostRequest{PostID: post.ID}, &like)
	assert.Equal(t, LikeResponse{Liked: false, LikeCount: 0}, like)

	err := env.call(t, bob.Token, "PinPost", &PinRequest{PostID: post.ID, Pinned: true}, &Empty{})
	assertCode(t, codes.PermissionDenied, err)
	env.mustCall(t, mod.Token, "PinPost", &PinRequest{PostID: post.ID, Pinned: true}, &Empty{})

	var shared PostView
	env.mustCall(t, "", "GetSharedPost", &PostRequest{PostID: post.ID}, &shared)
	assert.True(t, shared.IsPinned)

	err = env.call(t, bob.Token, "DeletePost", &PostRequest{PostID: post.ID}, &Empty{})
	assertCode(t, codes.PermissionDenied, err)

	env.mustCall(t, mod.Token, "ModeratePost", &ModerateRequest{ID: post.ID, Status: "removed", Reason: "spam"}, &Empty{})
	err = env.call(t, bob.Token, "GetPost", &PostRequest{PostID: post.ID}, &PostView{})
	assertCode(t, codes.FailedPrecondition, err)

	// share links never reveal whether a post exists
	err = env.call(t, "", "GetSharedPost", &PostRequest{PostID: bson.NewObjectID().Hex()}, &PostView{})
	assertCode(t, codes.FailedPrecondition, err)

	err = env.call(t, bob.Token, "GetPost", &PostRequest{PostID: "nope"}, &PostView{})
	assertCode(t, codes.InvalidArgument, err)
}

func TestMessagingAndSubscribe(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	ctx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+bob.Token))
	defer cancel()
	stream, err := env.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Subscribe"))
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&SubscribeRequest{}))
	require.NoError(t, stream.CloseSend())
	require.Eventually(t, func() bool { return env.srv.hub.Connected(bob.UserID) == 1 },
		2*time.Second, 10*time.Millisecond)

	var conv ConversationView
	env.mustCall(t, alice.Token, "OpenConversation", &UserRequest{UserID: bob.UserID}, &conv)
	var again ConversationView
	env.mustCall(t, bob.Token, "OpenConversation", &UserRequest{UserID: alice.UserID}, &again)
	assert.Equal(t, conv.ID, again.ID)

	var sent MessageView
	env.mustCall(t, alice.Token, "SendMessage", &SendRequest{ConversationID: conv.ID, Content: "  hello bob  "}, &sent)
	assert.Equal(t, "hello bob", sent.Content)
	assert.Equal(t, "text", sent.Type)

	var ev Event
	require.NoError(t, stream.RecvMsg(&ev))
	assert.Equal(t, eventMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, sent.ID, ev.Message.ID)

	var list ConversationsResponse
	env.mustCall(t, bob.Token, "ListConversations", &PageRequest{}, &list)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, int64(1), list.Conversations[0].Unread)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, sent.ID, list.Conversations[0].LastMessage.MessageID)

	var page MessagesResponse
	env.mustCall(t, bob.Token, "FetchMessages", &PageRequest{ConversationID: conv.ID}, &page)
	require.Len(t, page.Messages, 1)
	require.Len(t, page.Messages[0].ReadBy, 1)
	assert.Equal(t, bob.UserID, page.Messages[0].ReadBy[0].User)

	env.mustCall(t, bob.Token, "ListConversations", &PageRequest{}, &list)
	assert.Equal(t, int64(0), list.Conversations[0].Unread)

	// outsiders can neither read the conversation nor see its messages
	err = env.call(t, carol.Token, "FetchMessages", &PageRequest{ConversationID: conv.ID}, &MessagesResponse{})
	assertCode(t, codes.PermissionDenied, err)
	err = env.call(t, carol.Token, "GetMessage", &MessageRequest{MessageID: sent.ID}, &MessageView{})
	assertCode(t, codes.NotFound, err)

	err = env.call(t, bob.Token, "DeleteMessage", &MessageRequest{MessageID: sent.ID}, &Empty{})
	assertCode(t, codes.PermissionDenied, err)

	env.mustCall(t, alice.Token, "DeleteMessage", &MessageRequest{MessageID: sent.ID}, &Empty{})
	err = env.call(t, alice.Token, "GetMessage", &MessageRequest{MessageID: sent.ID}, &MessageView{})
	assertCode(t, codes.NotFound, err)
	env.mustCall(t, bob.Token, "GetMessage", &MessageRequest{MessageID: sent.ID}, &MessageView{})

	err = env.call(t, alice.Token, "ModerateMessage", &ModerateRequest{ID: sent.ID, Status: "removed"}, &Empty{})
	assertCode(t, codes.PermissionDenied, err)

	err = env.call(t, alice.Token, "OpenConversation", &UserRequest{UserID: alice.UserID}, &ConversationView{})
	assertCode(t, codes.InvalidArgument, err)

	cancel()
	require.Eventually(t, func() bool { return env.srv.hub.Connected(bob.UserID) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestPrayers(t *testing.T) {
	env := startServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	var open, private PrayerView
	env.mustCall(t, alice.Token, "AddPrayer", &AddPrayerRequest{Request: "for my family", Category: "family"}, &open)
	env.mustCall(t, alice.Token, "AddPrayer", &AddPrayerRequest{Request: "just me", IsPrivate: true}, &private)
	assert.Equal(t, "general", private.Category)

	var prayed PrayResponse
	env.mustCall(t, bob.Token, "Pray", &PrayerRef{OwnerID: alice.UserID, PrayerID: open.ID}, &prayed)
	assert.Equal(t, int64(1), prayed.PrayerCount)

	err := env.call(t, bob.Token, "Pray", &PrayerRef{OwnerID: alice.UserID, PrayerID: private.ID}, &PrayResponse{})
	assertCode(t, codes.PermissionDenied, err)

	var bobs Profile
	env.mustCall(t, bob.Token, "GetProfile", &UserRequest{}, &bobs)
	assert.Equal(t, int64(1), bobs.TotalPrayersOffered)
	assert.NotNil(t, bobs.LastPrayedAt)

	var list PrayersResponse
	env.mustCall(t, bob.Token, "ListPrayers", &UserRequest{UserID: alice.UserID}, &list)
	require.Len(t, list.Prayers, 1)
	assert.Equal(t, open.ID, list.Prayers[0].ID)
	assert.Equal(t, int64(1), list.Prayers[0].PrayerCount)

	env.mustCall(t, alice.Token, "ListPrayers", &UserRequest{}, &list)
	assert.Len(t, list.Prayers, 2)

	env.mustCall(t, alice.Token, "MarkPrayerAnswered", &PrayerRef{PrayerID: open.ID, Note: "all well"}, &Empty{})
	env.mustCall(t, bob.Token, "ListPrayers", &UserRequest{UserID: alice.UserID}, &list)
	require.Len(t, list.Prayers, 1)
	assert.True(t, list.Prayers[0].IsAnswered)
	assert.Equal(t, "all well", list.Prayers[0].AnswerNote)

	err = env.call(t, bob.Token, "DeletePrayer", &PrayerRef{OwnerID: alice.UserID, PrayerID: open.ID}, &Empty{})
	assertCode(t, codes.PermissionDenied, err)
	env.mustCall(t, alice.Token, "DeletePrayer", &PrayerRef{PrayerID: open.ID}, &Empty{})
	env.mustCall(t, bob.Token, "ListPrayers", &UserRequest{UserID: alice.UserID}, &list)
	assert.Empty(t, list.Prayers)
}

func TestHealth(t *testing.T) {
	env := startServer(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: serviceName},
		grpc.CallContentSubtype("proto"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
