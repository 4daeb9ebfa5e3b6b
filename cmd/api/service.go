package main

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully qualified gRPC service name.
const serviceName = "community.v1.CommunityService"

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary adapts a Server method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// EventSender is the server side of a Subscribe stream.
type EventSender interface {
	Send(*Event) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *Event) error { return s.SendMsg(e) }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", (*Server).Register),
		unary("Login", (*Server).Login),
		unary("GetProfile", (*Server).GetProfile),
		unary("UpdatePrivacy", (*Server).UpdatePrivacy),

		unary("RequestConnection", (*Server).RequestConnection),
		unary("RespondConnection", (*Server).RespondConnection),
		unary("ConnectionStatus", (*Server).ConnectionStatus),
		unary("MutualConnections", (*Server).MutualConnections),
		unary("RemoveConnection", (*Server).RemoveConnection),
		unary("PendingConnections", (*Server).PendingConnections),

		unary("CreatePost", (*Server).CreatePost),
		unary("GetPost", (*Server).GetPost),
		unary("GetSharedPost", (*Server).GetSharedPost),
		unary("CommentOnPost", (*Server).CommentOnPost),
		unary("ReplyToComment", (*Server).ReplyToComment),
		unary("TogglePostLike", (*Server).TogglePostLike),
		unary("DeletePost", (*Server).DeletePost),
		unary("ModeratePost", (*Server).ModeratePost),
		unary("PinPost", (*Server).PinPost),
		unary("Feed", (*Server).Feed),

		unary("OpenConversation", (*Server).OpenConversation),
		unary("ListConversations", (*Server).ListConversations),
		unary("SendMessage", (*Server).SendMessage),
		unary("FetchMessages", (*Server).FetchMessages),
		unary("GetMessage", (*Server).GetMessage),
		unary("DeleteMessage", (*Server).DeleteMessage),
		unary("ModerateMessage", (*Server).ModerateMessage),

		unary("AddPrayer", (*Server).AddPrayer),
		unary("Pray", (*Server).Pray),
		unary("MarkPrayerAnswered", (*Server).MarkPrayerAnswered),
		unary("DeletePrayer", (*Server).DeletePrayer),
		unary("ListPrayers", (*Server).ListPrayers),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(*Server).Subscribe(in, &eventStream{stream})
			},
		},
	},
}

// registerService registers the community service on s.
func registerService(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}
