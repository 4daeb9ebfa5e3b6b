package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a document is absent or a conditional
	// update's precondition did not match.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate document")
)

// Role is the authorization role attached to a user account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Visibility controls which viewers may see a post or profile.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityConnections Visibility = "connections"
	VisibilityPrivate     Visibility = "private"
)

// Valid reports whether v is a known visibility mode.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityConnections, VisibilityPrivate:
		return true
	}
	return false
}

// ModerationStatus gates content independently of owner/visibility rules.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRemoved  ModerationStatus = "removed"
)

func (s ModerationStatus) Valid() bool {
	switch s {
	case ModerationPending, ModerationApproved, ModerationRemoved:
		return true
	}
	return false
}

// Moderation is the moderation sub-record shared by posts and messages.
type Moderation struct {
	Status      ModerationStatus `bson:"status"`
	Reason      string           `bson:"reason,omitempty"`
	ModeratedBy bson.ObjectID    `bson:"moderated_by,omitempty"`
	ModeratedAt *time.Time       `bson:"moderated_at,omitempty"`
}

// Actor is the resolved, active identity performing an operation.
type Actor struct {
	ID   bson.ObjectID
	Role Role
}

// IsModerator reports whether the actor may moderate community content.
func (a Actor) IsModerator() bool {
	return a.Role == RoleModerator || a.Role == RoleAdmin
}

// User maps to the users collection.
type User struct {
	ID             bson.ObjectID   `bson:"_id,omitempty"`
	Email          string          `bson:"email"`
	Password       string          `bson:"password"`
	DisplayName    string          `bson:"display_name"`
	Bio            string          `bson:"bio,omitempty"`
	Role           Role            `bson:"role"`
	IsActive       bool            `bson:"is_active"`
	Privacy        Privacy         `bson:"privacy"`
	PrayerRequests []PrayerRequest `bson:"prayer_requests"`
	PrayerStats    PrayerStats     `bson:"prayer_stats"`
	CreatedAt      time.Time       `bson:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at"`
}

// Actor returns the user as an acting identity.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// Prayer returns the embedded prayer request with the given id.
func (u *User) Prayer(id bson.ObjectID) (*PrayerRequest, bool) {
	for i := range u.PrayerRequests {
		if u.PrayerRequests[i].ID == id {
			return &u.PrayerRequests[i], true
		}
	}
	return nil, false
}

// Privacy holds per-user visibility settings.
type Privacy struct {
	ProfileVisibility  Visibility `bson:"profile_visibility"`
	ShowPrayerRequests bool       `bson:"show_prayer_requests"`
}

// DefaultPrivacy is applied to newly registered users.
func DefaultPrivacy() Privacy {
	return Privacy{ProfileVisibility: VisibilityPublic, ShowPrayerRequests: true}
}

// PrayerStats is the user-level aggregate of prayers offered by that user.
type PrayerStats struct {
	TotalPrayersOffered int64      `bson:"total_prayers_offered"`
	LastPrayedAt        *time.Time `bson:"last_prayed_at,omitempty"`
}

// PrayerCategory classifies a prayer request.
type PrayerCategory string

const (
	CategoryGeneral      PrayerCategory = "general"
	CategoryHealth       PrayerCategory = "health"
	CategoryFamily       PrayerCategory = "family"
	CategoryWork         PrayerCategory = "work"
	CategorySpiritual    PrayerCategory = "spiritual"
	CategoryGuidance     PrayerCategory = "guidance"
	CategoryThanksgiving PrayerCategory = "thanksgiving"
	CategoryOther        PrayerCategory = "other"
)

func (c PrayerCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryHealth, CategoryFamily, CategoryWork,
		CategorySpiritual, CategoryGuidance, CategoryThanksgiving, CategoryOther:
		return true
	}
	return false
}

// PrayerRequest is embedded in its owner's User document.
type PrayerRequest struct {
	ID          bson.ObjectID  `bson:"_id"`
	Request     string         `bson:"request"`
	Category    PrayerCategory `bson:"category"`
	IsPrivate   bool           `bson:"is_private"`
	IsAnswered  bool           `bson:"is_answered"`
	AnsweredAt  *time.Time     `bson:"answered_at,omitempty"`
	AnswerNote  string         `bson:"answer_note,omitempty"`
	PrayerCount int64          `bson:"prayer_count"`
	CreatedAt   time.Time      `bson:"created_at"`
}

// ConnectionStatus is the stored lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionDeclined ConnectionStatus = "declined"
	ConnectionBlocked  ConnectionStatus = "blocked"
)

// Connection is a directed request between two users. PairKey is the
// canonical unordered pair and carries a unique index.
type Connection struct {
	ID          bson.ObjectID    `bson:"_id,omitempty"`
	PairKey     string           `bson:"pair_key"`
	Requester   bson.ObjectID    `bson:"requester"`
	Recipient   bson.ObjectID    `bson:"recipient"`
	Status      ConnectionStatus `bson:"status"`
	Message     string           `bson:"message,omitempty"`
	RequestedAt time.Time        `bson:"requested_at"`
	RespondedAt *time.Time       `bson:"responded_at,omitempty"`
	Viewed      bool             `bson:"viewed"`
}

// Other returns the party of the connection that is not user.
func (c *Connection) Other(user bson.ObjectID) bson.ObjectID {
	if c.Requester == user {
		return c.Recipient
	}
	return c.Requester
}

// Media is an attachment reference on a post.
type Media struct {
	URL  string `bson:"url"`
	Type string `bson:"type"`
}

// Post maps to the posts collection. Comments and replies are append-only
// logs; likes are a set keyed by user.
type Post struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	Author     bson.ObjectID `bson:"author"`
	Content    string        `bson:"content"`
	Media      []Media       `bson:"media,omitempty"`
	Visibility Visibility    `bson:"visibility"`
	Comments   []Comment     `bson:"comments"`
	Likes      []Like        `bson:"likes"`
	Moderation Moderation    `bson:"moderation"`
	IsActive   bool          `bson:"is_active"`
	IsPinned   bool          `bson:"is_pinned"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}

// LikedBy reports whether user is in the post's like set.
func (p *Post) LikedBy(user bson.ObjectID) bool {
	for _, l := range p.Likes {
		if l.User == user {
			return true
		}
	}
	return false
}

// Comment is an entry of a post's comment log.
type Comment struct {
	ID        bson.ObjectID `bson:"_id"`
	Author    bson.ObjectID `bson:"author"`
	Content   string        `bson:"content"`
	Replies   []Reply       `bson:"replies"`
	CreatedAt time.Time     `bson:"created_at"`
}

// Reply is an entry of a comment's reply log.
type Reply struct {
	ID        bson.ObjectID `bson:"_id"`
	Author    bson.ObjectID `bson:"author"`
	Content   string        `bson:"content"`
	CreatedAt time.Time     `bson:"created_at"`
}

// Like is a member of a post's like set.
type Like struct {
	User      bson.ObjectID `bson:"user"`
	CreatedAt time.Time     `bson:"created_at"`
}

// LastMessage is the denormalized snapshot kept on a conversation.
type LastMessage struct {
	MessageID bson.ObjectID `bson:"message_id"`
	Sender    bson.ObjectID `bson:"sender"`
	Content   string        `bson:"content"`
	Type      MessageType   `bson:"type"`
	SentAt    time.Time     `bson:"sent_at"`
}

// Conversation maps to the conversations collection. UnreadCounts is keyed by
// participant hex id and is a cache recomputable from the messages log.
type Conversation struct {
	ID           bson.ObjectID    `bson:"_id,omitempty"`
	PairKey      string           `bson:"pair_key"`
	Participants []bson.ObjectID  `bson:"participants"`
	LastMessage  *LastMessage     `bson:"last_message,omitempty"`
	LastActivity time.Time        `bson:"last_activity"`
	UnreadCounts map[string]int64 `bson:"unread_counts"`
	// Version counts writes to the derived fields; Reconcile writes only
	// over the version it computed from.
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
}

// HasParticipant reports whether user belongs to the conversation.
func (c *Conversation) HasParticipant(user bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// Other returns the participant that is not user.
func (c *Conversation) Other(user bson.ObjectID) bson.ObjectID {
	for _, p := range c.Participants {
		if p != user {
			return p
		}
	}
	return bson.NilObjectID
}

// Unread returns user's unread counter.
func (c *Conversation) Unread(user bson.ObjectID) int64 {
	return c.UnreadCounts[user.Hex()]
}

// MessageType distinguishes message payloads.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// ReadReceipt is an entry of a message's read_by log.
type ReadReceipt struct {
	User   bson.ObjectID `bson:"user"`
	ReadAt time.Time     `bson:"read_at"`
}

// Deletion is an entry of a message's deleted_by log.
type Deletion struct {
	User      bson.ObjectID `bson:"user"`
	DeletedAt time.Time     `bson:"deleted_at"`
}

// Message maps to the messages collection and is the source of truth for
// conversation summaries and unread counters.
type Message struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Conversation bson.ObjectID `bson:"conversation"`
	Sender       bson.ObjectID `bson:"sender"`
	Content      string        `bson:"content"`
	Type         MessageType   `bson:"type"`
	ReadBy       []ReadReceipt `bson:"read_by"`
	DeletedBy    []Deletion    `bson:"deleted_by"`
	Moderation   Moderation    `bson:"moderation"`
	CreatedAt    time.Time     `bson:"created_at"`
}

// ReadAt returns when user read the message, if they have.
func (m *Message) ReadAt(user bson.ObjectID) (time.Time, bool) {
	for _, r := range m.ReadBy {
		if r.User == user {
			return r.ReadAt, true
		}
	}
	return time.Time{}, false
}

// DeletedFor reports whether user soft-deleted the message.
func (m *Message) DeletedFor(user bson.ObjectID) bool {
	for _, d := range m.DeletedBy {
		if d.User == user {
			return true
		}
	}
	return false
}

// Snapshot builds the conversation summary for this message.
func (m *Message) Snapshot() LastMessage {
	return LastMessage{
		MessageID: m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Type:      m.Type,
		SentAt:    m.CreatedAt,
	}
}
