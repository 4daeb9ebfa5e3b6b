package main

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/data"

	"go.uber.org/zap"
)

// OpenConversation returns the caller's conversation with another user,
// creating it on first use.
func (s *Server) OpenConversation(ctx context.Context, req *UserRequest) (*ConversationView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	other, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}

	conv, err := s.ledger.GetOrCreate(ctx, actor.ID, other)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return conversationView(conv, actor.ID), nil
}

func (s *Server) ListConversations(ctx context.Context, req *PageRequest) (*ConversationsResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	convs, err := s.ledger.List(ctx, actor.ID, req.Page, req.PageSize)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &ConversationsResponse{Conversations: make([]*ConversationView, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, conversationView(c, actor.ID))
	}
	return resp, nil
}

// SendMessage appends a message and pushes it to the other participant's
// open Subscribe streams.
func (s *Server) SendMessage(ctx context.Context, req *SendRequest) (*MessageView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	convID, err := parseID("conversation_id", req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg, err := s.ledger.Send(ctx, convID, actor.ID, req.Content, data.MessageType(req.Type))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	view := messageView(msg)

	members, err := s.ledger.Participants(ctx, convID)
	if err != nil {
		s.log.Debug("live delivery skipped", zap.String("conversation", convID.Hex()), zap.Error(err))
		return view, nil
	}
	for _, p := range members {
		if p == actor.ID {
			continue
		}
		if err := s.hub.SendToUser(p.Hex(), &Event{Type: eventMessage, Message: view}); err != nil {
			s.log.Debug("live delivery failed", zap.String("user", p.Hex()), zap.Error(err))
		}
	}
	return view, nil
}

// FetchMessages returns a page of messages, oldest first, and marks the
// other participant's messages on it as read.
func (s *Server) FetchMessages(ctx context.Context, req *PageRequest) (*MessagesResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	convID, err := parseID("conversation_id", req.ConversationID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.ledger.FetchPage(ctx, convID, actor.ID, req.Page, req.PageSize)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &MessagesResponse{Messages: make([]*MessageView, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageView(m))
	}
	return resp, nil
}

func (s *Server) GetMessage(ctx context.Context, req *MessageRequest) (*MessageView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("message_id", req.MessageID)
	if err != nil {
		return nil, err
	}

	msg, err := s.ledger.Get(ctx, id, actor.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return messageView(msg), nil
}

// DeleteMessage hides one of the caller's messages from the caller.
func (s *Server) DeleteMessage(ctx context.Context, req *MessageRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("message_id", req.MessageID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.SoftDelete(ctx, id, actor.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) ModerateMessage(ctx context.Context, req *ModerateRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", req.ID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Moderate(ctx, id, actor, data.ModerationStatus(req.Status), req.Reason); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// Subscribe streams live events for the caller until the client goes away.
func (s *Server) Subscribe(_ *SubscribeRequest, stream EventSender) error {
	ctx := stream.Context()
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}

	user := actor.ID.Hex()
	id := s.hub.Register(user, stream)
	defer s.hub.Unregister(user, id)

	<-ctx.Done()
	return nil
}
