package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestConversationsUniquePerPair(t *testing.T) {
	c := setupDB(t)
	convs := NewConversationsStore(c.ConversationsCollection())
	ctx := context.Background()

	alice, bob := bson.NewObjectID(), bson.NewObjectID()
	now := time.Now().UTC()

	first := NewConversation(alice, bob, now)
	if err := convs.InsertConversation(ctx, first); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
	if err := convs.InsertConversation(ctx, NewConversation(bob, alice, now)); err != ErrDuplicate {
		t.Fatalf("second insert: want ErrDuplicate, got %v", err)
	}

	got, err := convs.FindConversationByPair(ctx, bob, alice)
	if err != nil {
		t.Fatalf("FindConversationByPair failed: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected %s got %s", first.ID.Hex(), got.ID.Hex())
	}
	if got.Unread(alice) != 0 || got.Unread(bob) != 0 {
		t.Fatalf("counters should start at zero: %v", got.UnreadCounts)
	}
}

func TestMessagesSendReadAndReconcile(t *testing.T) {
	c := setupDB(t)
	convs := NewConversationsStore(c.ConversationsCollection())
	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	alice, bob := bson.NewObjectID(), bson.NewObjectID()
	now := time.Now().UTC()
	conv := NewConversation(alice, bob, now)
	if err := convs.InsertConversation(ctx, conv); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}

	var ids []bson.ObjectID
	for i, content := range []string{"hi bob", "are you there", "hello?"} {
		m := &Message{
			Conversation: conv.ID,
			Sender:       alice,
			Content:      content,
			Type:         MessageText,
			Moderation:   Moderation{Status: ModerationApproved},
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		}
		if err := msgs.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
		if err := convs.RecordMessageSent(ctx, conv.ID, bob, m.Snapshot()); err != nil {
			t.Fatalf("RecordMessageSent failed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	got, _ := convs.GetConversation(ctx, conv.ID)
	if got.Unread(bob) != 3 || got.Unread(alice) != 0 {
		t.Fatalf("unexpected counters: %v", got.UnreadCounts)
	}

	page, err := msgs.MessagePage(ctx, conv.ID, bob, 0, 10)
	if err != nil {
		t.Fatalf("MessagePage failed: %v", err)
	}
	if len(page) != 3 || page[0].Content != "hi bob" {
		t.Fatalf("page should be chronological, got %d messages", len(page))
	}

	if err := msgs.SetMessageModeration(ctx, ids[2], Moderation{Status: ModerationRemoved}); err != nil {
		t.Fatalf("SetMessageModeration failed: %v", err)
	}
	unread, err := msgs.CountUnread(ctx, conv.ID, bob)
	if err != nil || unread != 2 {
		t.Fatalf("removed messages must not count as unread: %d, %v", unread, err)
	}

	// alice reading her own messages marks nothing
	n, err := msgs.MarkConversationRead(ctx, conv.ID, alice, now)
	if err != nil || n != 0 {
		t.Fatalf("sender read: n=%d err=%v", n, err)
	}

	n, err = msgs.MarkConversationRead(ctx, conv.ID, bob, now)
	if err != nil || n != 3 {
		t.Fatalf("MarkConversationRead: n=%d err=%v", n, err)
	}
	n, _ = msgs.MarkConversationRead(ctx, conv.ID, bob, now)
	if n != 0 {
		t.Fatalf("read receipts must not duplicate, marked %d", n)
	}

	unread, err = msgs.CountUnread(ctx, conv.ID, bob)
	if err != nil || unread != 0 {
		t.Fatalf("CountUnread = %d, %v", unread, err)
	}

	if err := msgs.MarkMessageDeleted(ctx, ids[0], alice, now); err != nil {
		t.Fatalf("MarkMessageDeleted failed: %v", err)
	}
	if err := msgs.MarkMessageDeleted(ctx, ids[0], alice, now); err != nil {
		t.Fatalf("repeat MarkMessageDeleted failed: %v", err)
	}
	m, _ := msgs.GetMessage(ctx, ids[0])
	if len(m.DeletedBy) != 1 {
		t.Fatalf("deleted_by should hold one entry, got %d", len(m.DeletedBy))
	}
	alicePage, _ := msgs.MessagePage(ctx, conv.ID, alice, 0, 10)
	bobPage, _ := msgs.MessagePage(ctx, conv.ID, bob, 0, 10)
	if len(alicePage) != 1 || len(bobPage) != 2 {
		t.Fatalf("soft delete should only hide for alice: alice=%d bob=%d", len(alicePage), len(bobPage))
	}

	latest, err := msgs.LatestVisibleMessage(ctx, conv.ID)
	if err != nil || latest.ID != ids[1] {
		t.Fatalf("LatestVisibleMessage = %v, %v", latest, err)
	}

	snap := latest.Snapshot()
	summary := map[string]int64{bob.Hex(): unread, alice.Hex(): 0}
	if err := convs.SetConversationSummary(ctx, conv.ID, got.Version-1, &snap, summary); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale summary write should be rejected, got %v", err)
	}
	if err := convs.SetConversationSummary(ctx, conv.ID, got.Version, &snap, summary); err != nil {
		t.Fatalf("SetConversationSummary failed: %v", err)
	}
	got, _ = convs.GetConversation(ctx, conv.ID)
	if got.Unread(bob) != 0 || got.LastMessage == nil || got.LastMessage.MessageID != ids[1] {
		t.Fatalf("summary not reconciled: %+v", got)
	}

	list, err := convs.ListConversations(ctx, bob, 0, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListConversations = %d, %v", len(list), err)
	}

	swept, err := convs.ConversationIDsAfter(ctx, bson.NilObjectID, 10)
	if err != nil || len(swept) != 1 {
		t.Fatalf("ConversationIDsAfter = %v, %v", swept, err)
	}
}
