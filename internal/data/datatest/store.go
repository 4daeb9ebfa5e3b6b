// Package datatest provides an in-memory implementation of every data store
// for unit tests. Each method holds one lock for its whole duration, which
// gives the same single-document atomicity the MongoDB stores rely on,
// including unique pair keys and conditional updates.
package datatest

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store holds users, connections, posts, conversations and messages.
type Store struct {
	mu sync.Mutex

	users       map[bson.ObjectID]*data.User
	connections map[bson.ObjectID]*data.Connection
	posts       map[bson.ObjectID]*data.Post
	convs       map[bson.ObjectID]*data.Conversation
	messages    map[bson.ObjectID]*data.Message

	failures map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[bson.ObjectID]*data.User),
		connections: make(map[bson.ObjectID]*data.Connection),
		posts:       make(map[bson.ObjectID]*data.Post),
		convs:       make(map[bson.ObjectID]*data.Conversation),
		messages:    make(map[bson.ObjectID]*data.Message),
		failures:    make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err. A nil err
// clears the failure.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

// ===== USERS =====

// AddUser inserts a user directly and returns a copy of it.
func (s *Store) AddUser(email, displayName string) *data.User {
	u, err := s.CreateUser(context.Background(), email, "hashed", displayName)
	if err != nil {
		panic(err)
	}
	return u
}

func (s *Store) CreateUser(ctx context.Context, email, hashedPassword, displayName string) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateUser"); err != nil {
		return nil, err
	}

	email = normalize.Email(email)
	for _, u := range s.users {
		if u.Email == email {
			return nil, data.ErrDuplicate
		}
	}

	now := time.Now().UTC()
	u := &data.User{
		ID:             bson.NewObjectID(),
		Email:          email,
		Password:       hashedPassword,
		DisplayName:    normalize.Text(displayName),
		Role:           data.RoleUser,
		IsActive:       true,
		Privacy:        data.DefaultPrivacy(),
		PrayerRequests: []data.PrayerRequest{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = normalize.Email(email)
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *Store) GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) UserExists(ctx context.Context, email string) (bool, error) {
	_, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, data.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) UpdatePrivacy(ctx context.Context, id bson.ObjectID, privacy data.Privacy) error {
	return s.withUser(id, func(u *data.User) error {
		u.Privacy = privacy
		return nil
	})
}

func (s *Store) SetUserActive(ctx context.Context, id bson.ObjectID, active bool) error {
	return s.withUser(id, func(u *data.User) error {
		u.IsActive = active
		return nil
	})
}

func (s *Store) SetUserRole(ctx context.Context, id bson.ObjectID, role data.Role) error {
	return s.withUser(id, func(u *data.User) error {
		u.Role = role
		return nil
	})
}

func (s *Store) AppendPrayer(ctx context.Context, owner bson.ObjectID, p data.PrayerRequest) error {
	return s.withUser(owner, func(u *data.User) error {
		u.PrayerRequests = append(u.PrayerRequests, p)
		return nil
	})
}

func (s *Store) IncrementPrayerCount(ctx context.Context, owner, prayerID bson.ObjectID) (int64, error) {
	var n int64
	err := s.withUser(owner, func(u *data.User) error {
		p, ok := u.Prayer(prayerID)
		if !ok {
			return data.ErrNotFound
		}
		p.PrayerCount++
		n = p.PrayerCount
		return nil
	})
	return n, err
}

func (s *Store) RecordPrayerOffered(ctx context.Context, actor bson.ObjectID, at time.Time) error {
	s.mu.Lock()
	err := s.fail("RecordPrayerOffered")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.withUser(actor, func(u *data.User) error {
		u.PrayerStats.TotalPrayersOffered++
		u.PrayerStats.LastPrayedAt = &at
		return nil
	})
}

func (s *Store) SetPrayerAnswered(ctx context.Context, owner, prayerID bson.ObjectID, at time.Time, note string) error {
	return s.withUser(owner, func(u *data.User) error {
		p, ok := u.Prayer(prayerID)
		if !ok {
			return data.ErrNotFound
		}
		p.IsAnswered = true
		p.AnsweredAt = &at
		p.AnswerNote = note
		return nil
	})
}

func (s *Store) RemovePrayer(ctx context.Context, owner, prayerID bson.ObjectID) error {
	return s.withUser(owner, func(u *data.User) error {
		i := slices.IndexFunc(u.PrayerRequests, func(p data.PrayerRequest) bool { return p.ID == prayerID })
		if i < 0 {
			return data.ErrNotFound
		}
		u.PrayerRequests = slices.Delete(u.PrayerRequests, i, i+1)
		return nil
	})
}

func (s *Store) withUser(id bson.ObjectID, fn func(*data.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return data.ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ===== CONNECTIONS =====

func (s *Store) InsertConnection(ctx context.Context, c *data.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.PairKey = data.PairKey(c.Requester, c.Recipient)
	if c.ID.IsZero() {
		c.ID = bson.NewObjectID()
	}
	for _, existing := range s.connections {
		if existing.PairKey == c.PairKey {
			return data.ErrDuplicate
		}
	}
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

func (s *Store) FindConnectionBetween(ctx context.Context, a, b bson.ObjectID) (*data.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := data.PairKey(a, b)
	for _, c := range s.connections {
		if c.PairKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *Store) RespondToConnection(ctx context.Context, id, responder bson.ObjectID, status data.ConnectionStatus, at time.Time) (*data.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok || c.Recipient != responder || c.Status != data.ConnectionPending {
		return nil, data.ErrNotFound
	}
	c.Status = status
	c.RespondedAt = &at
	c.Viewed = true
	cp := *c
	return &cp, nil
}

func (s *Store) DeleteAcceptedConnection(ctx context.Context, a, b bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := data.PairKey(a, b)
	for id, c := range s.connections {
		if c.PairKey == key && c.Status == data.ConnectionAccepted {
			delete(s.connections, id)
			return nil
		}
	}
	return data.ErrNotFound
}

func (s *Store) ConnectedIDs(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ConnectedIDs"); err != nil {
		return nil, err
	}
	ids := []bson.ObjectID{}
	for _, c := range s.connections {
		if c.Status != data.ConnectionAccepted {
			continue
		}
		if c.Requester == user || c.Recipient == user {
			ids = append(ids, c.Other(user))
		}
	}
	return ids, nil
}

func (s *Store) PendingFor(ctx context.Context, user bson.ObjectID, limit int64) ([]*data.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Connection
	for _, c := range s.connections {
		if c.Recipient == user && c.Status == data.ConnectionPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ===== POSTS =====

func (s *Store) InsertPost(ctx context.Context, p *data.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	if p.Comments == nil {
		p.Comments = []data.Comment{}
	}
	if p.Likes == nil {
		p.Likes = []data.Like{}
	}
	s.posts[p.ID] = copyPost(p)
	return nil
}

func (s *Store) GetPost(ctx context.Context, id bson.ObjectID) (*data.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyPost(p), nil
}

func (s *Store) FindFeed(ctx context.Context, q data.FeedQuery) ([]*data.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindFeed"); err != nil {
		return nil, err
	}

	var matched []*data.Post
	for _, p := range s.posts {
		if q.Matches(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return data.FeedLess(matched[i], matched[j]) })

	if q.Skip >= int64(len(matched)) {
		return nil, nil
	}
	matched = matched[q.Skip:]
	if q.Limit > 0 && int64(len(matched)) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]*data.Post, 0, len(matched))
	for _, p := range matched {
		out = append(out, copyPost(p))
	}
	return out, nil
}

func (s *Store) AppendComment(ctx context.Context, postID bson.ObjectID, c data.Comment) error {
	return s.withPost(postID, func(p *data.Post) error {
		if c.Replies == nil {
			c.Replies = []data.Reply{}
		}
		p.Comments = append(p.Comments, c)
		return nil
	})
}

func (s *Store) AppendReply(ctx context.Context, postID, commentID bson.ObjectID, r data.Reply) error {
	return s.withPost(postID, func(p *data.Post) error {
		for i := range p.Comments {
			if p.Comments[i].ID == commentID {
				p.Comments[i].Replies = append(p.Comments[i].Replies, r)
				return nil
			}
		}
		return data.ErrNotFound
	})
}

func (s *Store) TogglePostLike(ctx context.Context, postID, user bson.ObjectID, at time.Time) (bool, error) {
	var liked bool
	err := s.withPost(postID, func(p *data.Post) error {
		i := slices.IndexFunc(p.Likes, func(l data.Like) bool { return l.User == user })
		if i >= 0 {
			p.Likes = slices.Delete(p.Likes, i, i+1)
			liked = false
			return nil
		}
		p.Likes = append(p.Likes, data.Like{User: user, CreatedAt: at})
		liked = true
		return nil
	})
	return liked, err
}

func (s *Store) SetPostModeration(ctx context.Context, postID bson.ObjectID, m data.Moderation) error {
	return s.withPost(postID, func(p *data.Post) error {
		p.Moderation = m
		return nil
	})
}

func (s *Store) SetPostActive(ctx context.Context, postID bson.ObjectID, active bool) error {
	return s.withPost(postID, func(p *data.Post) error {
		p.IsActive = active
		return nil
	})
}

func (s *Store) SetPostPinned(ctx context.Context, postID bson.ObjectID, pinned bool) error {
	return s.withPost(postID, func(p *data.Post) error {
		p.IsPinned = pinned
		return nil
	})
}

func (s *Store) withPost(id bson.ObjectID, fn func(*data.Post) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return data.ErrNotFound
	}
	if err := fn(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ===== CONVERSATIONS =====

func (s *Store) InsertConversation(ctx context.Context, c *data.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.convs {
		if existing.PairKey == c.PairKey {
			return data.ErrDuplicate
		}
	}
	s.convs[c.ID] = copyConversation(c)
	return nil
}

func (s *Store) FindConversationByPair(ctx context.Context, a, b bson.ObjectID) (*data.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := data.PairKey(a, b)
	for _, c := range s.convs {
		if c.PairKey == key {
			return copyConversation(c), nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *Store) GetConversation(ctx context.Context, id bson.ObjectID) (*data.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *Store) RecordMessageSent(ctx context.Context, id, recipient bson.ObjectID, last data.LastMessage) error {
	return s.withConversation("RecordMessageSent", id, func(c *data.Conversation) error {
		c.LastMessage = &last
		c.LastActivity = last.SentAt
		c.UnreadCounts[recipient.Hex()]++
		c.Version++
		return nil
	})
}

func (s *Store) ResetUnread(ctx context.Context, id, user bson.ObjectID) error {
	return s.withConversation("ResetUnread", id, func(c *data.Conversation) error {
		c.UnreadCounts[user.Hex()] = 0
		c.Version++
		return nil
	})
}

func (s *Store) SetConversationSummary(ctx context.Context, id bson.ObjectID, version int64, last *data.LastMessage, unread map[string]int64) error {
	return s.withConversation("SetConversationSummary", id, func(c *data.Conversation) error {
		if c.Version != version {
			return data.ErrNotFound
		}
		c.Version++
		if last != nil {
			cp := *last
			c.LastMessage = &cp
		} else {
			c.LastMessage = nil
		}
		for user, n := range unread {
			c.UnreadCounts[user] = n
		}
		return nil
	})
}

func (s *Store) ListConversations(ctx context.Context, user bson.ObjectID, skip, limit int64) ([]*data.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Conversation
	for _, c := range s.convs {
		if c.HasParticipant(user) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return window(out, skip, limit), nil
}

func (s *Store) ConversationIDsAfter(ctx context.Context, after bson.ObjectID, limit int64) ([]bson.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []bson.ObjectID
	for id := range s.convs {
		if after.IsZero() || id.Hex() > after.Hex() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	return window(ids, 0, limit), nil
}

// SetUnread overwrites a counter directly, simulating drift.
func (s *Store) SetUnread(id, user bson.ObjectID, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.UnreadCounts[user.Hex()] = n
	}
}

func (s *Store) withConversation(method string, id bson.ObjectID, fn func(*data.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(method); err != nil {
		return err
	}
	c, ok := s.convs[id]
	if !ok {
		return data.ErrNotFound
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int64)
	}
	return fn(c)
}

// ===== MESSAGES =====

func (s *Store) InsertMessage(ctx context.Context, m *data.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertMessage"); err != nil {
		return err
	}
	if m.ID.IsZero() {
		m.ID = bson.NewObjectID()
	}
	if m.ReadBy == nil {
		m.ReadBy = []data.ReadReceipt{}
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []data.Deletion{}
	}
	s.messages[m.ID] = copyMessage(m)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id bson.ObjectID) (*data.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *Store) MessagePage(ctx context.Context, conversation, viewer bson.ObjectID, skip, limit int64) ([]*data.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []*data.Message
	for _, m := range s.sortedMessages(conversation) {
		if m.DeletedFor(viewer) || m.Moderation.Status == data.ModerationRemoved {
			continue
		}
		page = append(page, copyMessage(m))
	}
	// newest first, then back to chronological
	slices.Reverse(page)
	page = window(page, skip, limit)
	slices.Reverse(page)
	return page, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversation, reader bson.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkConversationRead"); err != nil {
		return 0, err
	}
	var n int64
	for _, m := range s.messages {
		if m.Conversation != conversation || m.Sender == reader {
			continue
		}
		if _, read := m.ReadAt(reader); read {
			continue
		}
		m.ReadBy = append(m.ReadBy, data.ReadReceipt{User: reader, ReadAt: at})
		n++
	}
	return n, nil
}

func (s *Store) MarkMessageDeleted(ctx context.Context, id, user bson.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.DeletedFor(user) {
		return nil
	}
	m.DeletedBy = append(m.DeletedBy, data.Deletion{User: user, DeletedAt: at})
	return nil
}

func (s *Store) CountUnread(ctx context.Context, conversation, user bson.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Conversation != conversation || m.Sender == user || m.Moderation.Status == data.ModerationRemoved {
			continue
		}
		if _, read := m.ReadAt(user); !read {
			n++
		}
	}
	return n, nil
}

func (s *Store) LatestVisibleMessage(ctx context.Context, conversation bson.ObjectID) (*data.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sortedMessages(conversation)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Moderation.Status != data.ModerationRemoved {
			return copyMessage(msgs[i]), nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *Store) SetMessageModeration(ctx context.Context, id bson.ObjectID, mod data.Moderation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return data.ErrNotFound
	}
	m.Moderation = mod
	return nil
}

// sortedMessages returns the conversation's messages oldest first. Callers
// hold the lock.
func (s *Store) sortedMessages(conversation bson.ObjectID) []*data.Message {
	var out []*data.Message
	for _, m := range s.messages {
		if m.Conversation == conversation {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

func window[T any](items []T, skip, limit int64) []T {
	if skip >= int64(len(items)) {
		return nil
	}
	items = items[skip:]
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

func copyUser(u *data.User) *data.User {
	cp := *u
	cp.PrayerRequests = slices.Clone(u.PrayerRequests)
	return &cp
}

func copyPost(p *data.Post) *data.Post {
	cp := *p
	cp.Media = slices.Clone(p.Media)
	cp.Likes = slices.Clone(p.Likes)
	cp.Comments = make([]data.Comment, len(p.Comments))
	for i, c := range p.Comments {
		c.Replies = slices.Clone(c.Replies)
		cp.Comments[i] = c
	}
	return &cp
}

func copyConversation(c *data.Conversation) *data.Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.UnreadCounts = make(map[string]int64, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		cp.UnreadCounts[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func copyMessage(m *data.Message) *data.Message {
	cp := *m
	cp.ReadBy = slices.Clone(m.ReadBy)
	cp.DeletedBy = slices.Clone(m.DeletedBy)
	return &cp
}
