// Package ledger owns two-party conversations and their messages.
//
// The messages collection is the log. A conversation's last message snapshot
// and unread counters are derived from it and are updated after the log
// write without a transaction. When that second write fails the log is still
// right and Reconcile recomputes the summary.
package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/db"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"
	"github.com/PaulBabatuyi/fellowship/internal/visibility"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MaxContentLen   = 5000

	reconcileAttempts = 5
)

var errSummaryChanged = errors.New("conversation summary changed")

// Conversations is the conversation persistence the Ledger needs.
type Conversations interface {
	InsertConversation(ctx context.Context, c *data.Conversation) error
	FindConversationByPair(ctx context.Context, a, b bson.ObjectID) (*data.Conversation, error)
	GetConversation(ctx context.Context, id bson.ObjectID) (*data.Conversation, error)
	RecordMessageSent(ctx context.Context, id, recipient bson.ObjectID, last data.LastMessage) error
	ResetUnread(ctx context.Context, id, user bson.ObjectID) error
	SetConversationSummary(ctx context.Context, id bson.ObjectID, version int64, last *data.LastMessage, unread map[string]int64) error
	ListConversations(ctx context.Context, user bson.ObjectID, skip, limit int64) ([]*data.Conversation, error)
	ConversationIDsAfter(ctx context.Context, after bson.ObjectID, limit int64) ([]bson.ObjectID, error)
}

// Messages is the message log the Ledger needs.
type Messages interface {
	InsertMessage(ctx context.Context, m *data.Message) error
	GetMessage(ctx context.Context, id bson.ObjectID) (*data.Message, error)
	MessagePage(ctx context.Context, conversation, viewer bson.ObjectID, skip, limit int64) ([]*data.Message, error)
	MarkConversationRead(ctx context.Context, conversation, reader bson.ObjectID, at time.Time) (int64, error)
	MarkMessageDeleted(ctx context.Context, id, user bson.ObjectID, at time.Time) error
	CountUnread(ctx context.Context, conversation, user bson.ObjectID) (int64, error)
	LatestVisibleMessage(ctx context.Context, conversation bson.ObjectID) (*data.Message, error)
	SetMessageModeration(ctx context.Context, id bson.ObjectID, mod data.Moderation) error
}

// UserLookup resolves users by id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// Ledger runs conversation operations.
type Ledger struct {
	convs Conversations
	msgs  Messages
	users UserLookup
	log   *zap.Logger
	retry db.RetryPolicy
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

// WithRetryPolicy sets how derived-field writes are retried.
func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(lg *Ledger) { lg.retry = p }
}

// New returns a Ledger.
func New(convs Conversations, msgs Messages, users UserLookup, opts ...Option) *Ledger {
	l := &Ledger{
		convs: convs,
		msgs:  msgs,
		users: users,
		log:   zap.NewNop(),
		retry: db.DefaultRetryPolicy,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetOrCreate returns the conversation between a and b, creating it with
// zeroed counters if needed. Concurrent callers for the same pair all get
// the same conversation.
func (l *Ledger) GetOrCreate(ctx context.Context, a, b bson.ObjectID) (*data.Conversation, error) {
	if a == b {
		return nil, apperr.InvalidInput("cannot open a conversation with yourself")
	}

	other, err := l.users.GetUserByID(ctx, b)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !other.IsActive) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	conv, err := l.convs.FindConversationByPair(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, err
	}

	conv = data.NewConversation(a, b, l.now())
	err = l.convs.InsertConversation(ctx, conv)
	if errors.Is(err, data.ErrDuplicate) {
		// lost the insert race; the winner's document is the conversation
		return l.convs.FindConversationByPair(ctx, a, b)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// participantConversation loads a conversation and checks user belongs to it.
func (l *Ledger) participantConversation(ctx context.Context, id, user bson.ObjectID) (*data.Conversation, error) {
	conv, err := l.convs.GetConversation(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(user) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

// Send appends a message to the conversation and updates its summary. The
// message insert is authoritative: once it succeeds Send succeeds, and a
// failed summary update is retried and then only logged.
func (l *Ledger) Send(ctx context.Context, conversationID, sender bson.ObjectID, content string, typ data.MessageType) (*data.Message, error) {
	if typ == "" {
		typ = data.MessageText
	}
	if !typ.Valid() {
		return nil, apperr.InvalidInput("unknown message type")
	}
	content = normalize.Text(content)
	if content == "" {
		return nil, apperr.InvalidInput("message content is required")
	}
	if len(content) > MaxContentLen {
		return nil, apperr.InvalidInput("message content is too long")
	}

	conv, err := l.participantConversation(ctx, conversationID, sender)
	if err != nil {
		return nil, err
	}

	msg := &data.Message{
		Conversation: conv.ID,
		Sender:       sender,
		Content:      content,
		Type:         typ,
		Moderation:   data.Moderation{Status: data.ModerationApproved},
		CreatedAt:    l.now(),
	}
	if err := l.msgs.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	recipient := conv.Other(sender)
	err = db.Retry(ctx, l.retry, func(ctx context.Context) error {
		return l.convs.RecordMessageSent(ctx, conv.ID, recipient, msg.Snapshot())
	})
	if err != nil {
		l.log.Warn("conversation summary update failed; counters will drift until reconciled",
			zap.String("conversation", conv.ID.Hex()),
			zap.String("message", msg.ID.Hex()),
			zap.Error(err))
	}
	return msg, nil
}

// FetchPage returns one page of messages visible to requester, oldest first,
// marks every message in the conversation from the other participant as read
// and resets requester's unread counter.
func (l *Ledger) FetchPage(ctx context.Context, conversationID, requester bson.ObjectID, page, pageSize int64) ([]*data.Message, error) {
	conv, err := l.participantConversation(ctx, conversationID, requester)
	if err != nil {
		return nil, err
	}

	page, pageSize = clampPage(page, pageSize)
	msgs, err := l.msgs.MessagePage(ctx, conv.ID, requester, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if _, err := l.msgs.MarkConversationRead(ctx, conv.ID, requester, now); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Sender == requester {
			continue
		}
		if _, read := m.ReadAt(requester); !read {
			m.ReadBy = append(m.ReadBy, data.ReadReceipt{User: requester, ReadAt: now})
		}
	}

	err = db.Retry(ctx, l.retry, func(ctx context.Context) error {
		return l.convs.ResetUnread(ctx, conv.ID, requester)
	})
	if err != nil {
		l.log.Warn("unread reset failed",
			zap.String("conversation", conv.ID.Hex()),
			zap.String("user", requester.Hex()),
			zap.Error(err))
	}
	return msgs, nil
}

// SoftDelete hides a message from its sender. Only the sender may delete;
// repeating the call changes nothing and the other participant still sees
// the message.
func (l *Ledger) SoftDelete(ctx context.Context, messageID, requester bson.ObjectID) error {
	msg, err := l.msgs.GetMessage(ctx, messageID)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return err
	}
	if msg.Sender != requester {
		return apperr.Forbidden("only the sender can delete a message")
	}
	return l.msgs.MarkMessageDeleted(ctx, messageID, requester, l.now())
}

// List returns user's conversations, most recently active first.
func (l *Ledger) List(ctx context.Context, user bson.ObjectID, page, pageSize int64) ([]*data.Conversation, error) {
	page, pageSize = clampPage(page, pageSize)
	return l.convs.ListConversations(ctx, user, (page-1)*pageSize, pageSize)
}

// Moderate sets a message's moderation status. Removing a message can change
// the conversation's last message, so the summary is recomputed.
func (l *Ledger) Moderate(ctx context.Context, messageID bson.ObjectID, moderator data.Actor, status data.ModerationStatus, reason string) error {
	if !moderator.IsModerator() {
		return apperr.Forbidden("moderator role required")
	}
	if !status.Valid() {
		return apperr.InvalidInput("unknown moderation status")
	}

	msg, err := l.msgs.GetMessage(ctx, messageID)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return err
	}

	at := l.now()
	err = l.msgs.SetMessageModeration(ctx, messageID, data.Moderation{
		Status:      status,
		Reason:      normalize.Text(reason),
		ModeratedBy: moderator.ID,
		ModeratedAt: &at,
	})
	if err != nil {
		return err
	}

	if err := l.Reconcile(ctx, msg.Conversation); err != nil {
		l.log.Warn("reconcile after moderation failed",
			zap.String("conversation", msg.Conversation.Hex()),
			zap.Error(err))
	}
	return nil
}

// Participants returns the members of a conversation.
func (l *Ledger) Participants(ctx context.Context, conversationID bson.ObjectID) ([]bson.ObjectID, error) {
	conv, err := l.convs.GetConversation(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

// Get returns a single message if viewer may see it. Messages the viewer
// cannot see are reported as NotFound.
func (l *Ledger) Get(ctx context.Context, messageID, viewer bson.ObjectID) (*data.Message, error) {
	msg, err := l.msgs.GetMessage(ctx, messageID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, err
	}

	conv, err := l.convs.GetConversation(ctx, msg.Conversation)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, err
	}
	if !visibility.MessageVisible(viewer, conv, msg) {
		return nil, apperr.NotFound("message not found")
	}
	return msg, nil
}

// Reconcile recomputes a conversation's unread counters and last message
// snapshot from the message log. The write only lands if no send or read
// touched the conversation since it was loaded; otherwise the computation is
// repeated.
func (l *Ledger) Reconcile(ctx context.Context, conversationID bson.ObjectID) error {
	for range reconcileAttempts {
		err := l.reconcileOnce(ctx, conversationID)
		if !errors.Is(err, errSummaryChanged) {
			return err
		}
	}
	return apperr.Conflict("conversation kept changing during reconcile")
}

func (l *Ledger) reconcileOnce(ctx context.Context, conversationID bson.ObjectID) error {
	conv, err := l.convs.GetConversation(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("conversation not found")
	}
	if err != nil {
		return err
	}

	unread := make(map[string]int64, len(conv.Participants))
	for _, p := range conv.Participants {
		n, err := l.msgs.CountUnread(ctx, conv.ID, p)
		if err != nil {
			return err
		}
		unread[p.Hex()] = n
	}

	var last *data.LastMessage
	latest, err := l.msgs.LatestVisibleMessage(ctx, conv.ID)
	switch {
	case err == nil:
		snap := latest.Snapshot()
		last = &snap
	case errors.Is(err, data.ErrNotFound):
	default:
		return err
	}

	err = db.Retry(ctx, l.retry, func(ctx context.Context) error {
		return l.convs.SetConversationSummary(ctx, conv.ID, conv.Version, last, unread)
	})
	if errors.Is(err, data.ErrNotFound) {
		return errSummaryChanged
	}
	return err
}

func clampPage(page, size int64) (int64, int64) {
	page = max(page, 1)
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)
	return min(page, math.MaxInt64/size), size
}
