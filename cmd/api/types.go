package main

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire types for community.v1.CommunityService. Ids are hex strings and
// times are RFC 3339 strings, the protobuf JSON form of a Timestamp.

// Timestamp is a protobuf timestamp that encodes as an RFC 3339 string.
type Timestamp struct {
	*timestamppb.Timestamp
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Timestamp == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.Timestamp)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Timestamp = nil
		return nil
	}
	t.Timestamp = &timestamppb.Timestamp{}
	return protojson.Unmarshal(b, t.Timestamp)
}

type AuthRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type AuthResponse struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	ExpiresAt *Timestamp `json:"expires_at"`
}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type Profile struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"display_name"`
	Bio                 string     `json:"bio,omitempty"`
	Role                string     `json:"role"`
	ProfileVisibility   string     `json:"profile_visibility"`
	ShowPrayerRequests  bool       `json:"show_prayer_requests"`
	TotalPrayersOffered int64      `json:"total_prayers_offered"`
	LastPrayedAt        *Timestamp `json:"last_prayed_at,omitempty"`
	Relation            string     `json:"relation,omitempty"`
	CreatedAt           *Timestamp `json:"created_at"`
}

type UpdatePrivacyRequest struct {
	ProfileVisibility  string `json:"profile_visibility"`
	ShowPrayerRequests bool   `json:"show_prayer_requests"`
}

type Empty struct{}

type ConnectionRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message,omitempty"`
}

type RespondRequest struct {
	ConnectionID string `json:"connection_id"`
	Action       string `json:"action"`
}

type ConnectionView struct {
	ID          string     `json:"id"`
	Requester   string     `json:"requester"`
	Recipient   string     `json:"recipient"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	RequestedAt *Timestamp `json:"requested_at"`
	RespondedAt *Timestamp `json:"responded_at,omitempty"`
}

type StatusResponse struct {
	Relation string `json:"relation"`
}

type MutualResponse struct {
	Count int `json:"count"`
}

type PendingRequest struct {
	Limit int64 `json:"limit,omitempty"`
}

type PendingResponse struct {
	Connections []*ConnectionView `json:"connections"`
}

type MediaView struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type CreatePostRequest struct {
	Content    string       `json:"content"`
	Media      []*MediaView `json:"media,omitempty"`
	Visibility string       `json:"visibility,omitempty"`
}

type PostRequest struct {
	PostID string `json:"post_id"`
}

type ReplyView struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	CreatedAt *Timestamp `json:"created_at"`
}

type CommentView struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Content   string       `json:"content"`
	Replies   []*ReplyView `json:"replies"`
	CreatedAt *Timestamp   `json:"created_at"`
}

type PostView struct {
	ID         string         `json:"id"`
	Author     string         `json:"author"`
	Content    string         `json:"content"`
	Media      []*MediaView   `json:"media,omitempty"`
	Visibility string         `json:"visibility"`
	Comments   []*CommentView `json:"comments"`
	LikeCount  int            `json:"like_count"`
	Liked      bool           `json:"liked"`
	IsPinned   bool           `json:"is_pinned"`
	CreatedAt  *Timestamp     `json:"created_at"`
}

type CommentRequest struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id,omitempty"`
	Content   string `json:"content"`
}

type LikeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

type ModerateRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type PinRequest struct {
	PostID string `json:"post_id"`
	Pinned bool   `json:"pinned"`
}

type FeedRequest struct {
	Page     int64  `json:"page,omitempty"`
	PageSize int64  `json:"page_size,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

type FeedResponse struct {
	Posts    []*PostView `json:"posts"`
	Page     int64       `json:"page"`
	PageSize int64       `json:"page_size"`
	HasMore  bool        `json:"has_more"`
}

type LastMessageView struct {
	MessageID string     `json:"message_id"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	SentAt    *Timestamp `json:"sent_at"`
}

type ConversationView struct {
	ID           string           `json:"id"`
	Participants []string         `json:"participants"`
	LastMessage  *LastMessageView `json:"last_message,omitempty"`
	LastActivity *Timestamp       `json:"last_activity"`
	Unread       int64            `json:"unread"`
}

type PageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Page           int64  `json:"page,omitempty"`
	PageSize       int64  `json:"page_size,omitempty"`
}

type ConversationsResponse struct {
	Conversations []*ConversationView `json:"conversations"`
}

type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
}

type ReceiptView struct {
	User   string     `json:"user"`
	ReadAt *Timestamp `json:"read_at"`
}

type MessageView struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	ReadBy         []*ReceiptView `json:"read_by"`
	CreatedAt      *Timestamp     `json:"created_at"`
}

type MessageRequest struct {
	MessageID string `json:"message_id"`
}

type MessagesResponse struct {
	Messages []*MessageView `json:"messages"`
}

type AddPrayerRequest struct {
	Request   string `json:"request"`
	Category  string `json:"category,omitempty"`
	IsPrivate bool   `json:"is_private"`
}

type PrayerRef struct {
	OwnerID  string `json:"owner_id"`
	PrayerID string `json:"prayer_id"`
	Note     string `json:"note,omitempty"`
}

type PrayerView struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Request     string     `json:"request"`
	Category    string     `json:"category"`
	IsPrivate   bool       `json:"is_private"`
	IsAnswered  bool       `json:"is_answered"`
	AnsweredAt  *Timestamp `json:"answered_at,omitempty"`
	AnswerNote  string     `json:"answer_note,omitempty"`
	PrayerCount int64      `json:"prayer_count"`
	CreatedAt   *Timestamp `json:"created_at"`
}

type PrayResponse struct {
	PrayerCount int64 `json:"prayer_count"`
}

type PrayersResponse struct {
	Prayers []*PrayerView `json:"prayers"`
}

type SubscribeRequest struct{}

// Event is pushed to Subscribe streams.
type Event struct {
	Type    string       `json:"type"`
	Message *MessageView `json:"message,omitempty"`
}

const eventMessage = "message"
