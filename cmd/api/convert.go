package main

import (
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func ts(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	return &Timestamp{timestamppb.New(t)}
}

func tsPtr(t *time.Time) *Timestamp {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func profileView(u *data.User) *Profile {
	return &Profile{
		ID:                  u.ID.Hex(),
		DisplayName:         u.DisplayName,
		Bio:                 u.Bio,
		Role:                string(u.Role),
		ProfileVisibility:   string(u.Privacy.ProfileVisibility),
		ShowPrayerRequests:  u.Privacy.ShowPrayerRequests,
		TotalPrayersOffered: u.PrayerStats.TotalPrayersOffered,
		LastPrayedAt:        tsPtr(u.PrayerStats.LastPrayedAt),
		CreatedAt:           ts(u.CreatedAt),
	}
}

func connectionView(c *data.Connection) *ConnectionView {
	return &ConnectionView{
		ID:          c.ID.Hex(),
		Requester:   c.Requester.Hex(),
		Recipient:   c.Recipient.Hex(),
		Status:      string(c.Status),
		Message:     c.Message,
		RequestedAt: ts(c.RequestedAt),
		RespondedAt: tsPtr(c.RespondedAt),
	}
}

func postView(p *data.Post, viewer bson.ObjectID) *PostView {
	v := &PostView{
		ID:         p.ID.Hex(),
		Author:     p.Author.Hex(),
		Content:    p.Content,
		Visibility: string(p.Visibility),
		Comments:   make([]*CommentView, 0, len(p.Comments)),
		LikeCount:  len(p.Likes),
		Liked:      !viewer.IsZero() && p.LikedBy(viewer),
		IsPinned:   p.IsPinned,
		CreatedAt:  ts(p.CreatedAt),
	}
	for _, m := range p.Media {
		v.Media = append(v.Media, &MediaView{URL: m.URL, Type: m.Type})
	}
	for i := range p.Comments {
		v.Comments = append(v.Comments, commentView(&p.Comments[i]))
	}
	return v
}

func commentView(c *data.Comment) *CommentView {
	v := &CommentView{
		ID:        c.ID.Hex(),
		Author:    c.Author.Hex(),
		Content:   c.Content,
		Replies:   make([]*ReplyView, 0, len(c.Replies)),
		CreatedAt: ts(c.CreatedAt),
	}
	for i := range c.Replies {
		v.Replies = append(v.Replies, replyView(&c.Replies[i]))
	}
	return v
}

func replyView(r *data.Reply) *ReplyView {
	return &ReplyView{
		ID:        r.ID.Hex(),
		Author:    r.Author.Hex(),
		Content:   r.Content,
		CreatedAt: ts(r.CreatedAt),
	}
}

func conversationView(c *data.Conversation, viewer bson.ObjectID) *ConversationView {
	v := &ConversationView{
		ID:           c.ID.Hex(),
		LastActivity: ts(c.LastActivity),
		Unread:       c.Unread(viewer),
	}
	for _, p := range c.Participants {
		v.Participants = append(v.Participants, p.Hex())
	}
	if lm := c.LastMessage; lm != nil {
		v.LastMessage = &LastMessageView{
			MessageID: lm.MessageID.Hex(),
			Sender:    lm.Sender.Hex(),
			Content:   lm.Content,
			Type:      string(lm.Type),
			SentAt:    ts(lm.SentAt),
		}
	}
	return v
}

func messageView(m *data.Message) *MessageView {
	v := &MessageView{
		ID:             m.ID.Hex(),
		ConversationID: m.Conversation.Hex(),
		Sender:         m.Sender.Hex(),
		Content:        m.Content,
		Type:           string(m.Type),
		ReadBy:         make([]*ReceiptView, 0, len(m.ReadBy)),
		CreatedAt:      ts(m.CreatedAt),
	}
	for _, r := range m.ReadBy {
		v.ReadBy = append(v.ReadBy, &ReceiptView{User: r.User.Hex(), ReadAt: ts(r.ReadAt)})
	}
	return v
}

func prayerView(owner bson.ObjectID, p *data.PrayerRequest) *PrayerView {
	return &PrayerView{
		ID:          p.ID.Hex(),
		OwnerID:     owner.Hex(),
		Request:     p.Request,
		Category:    string(p.Category),
		IsPrivate:   p.IsPrivate,
		IsAnswered:  p.IsAnswered,
		AnsweredAt:  tsPtr(p.AnsweredAt),
		AnswerNote:  p.AnswerNote,
		PrayerCount: p.PrayerCount,
		CreatedAt:   ts(p.CreatedAt),
	}
}
