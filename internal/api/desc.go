// Package api exposes the daemon over gRPC. Requests and responses travel as
// google.protobuf.Struct documents holding the JSON form of the types below.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inbox.v1.Inbox"

// Method names.
const (
	MethodStatus                = "Status"
	MethodConversations         = "Conversations"
	MethodLoadMoreConversations = "LoadMoreConversations"
	MethodMessages              = "Messages"
	MethodLoadMoreMessages      = "LoadMoreMessages"
	MethodFindConversation      = "FindConversation"
	MethodCreateConversation    = "CreateConversation"
	MethodEditConversation      = "EditConversation"
	MethodSend                  = "Send"
	MethodPushChannels          = "PushChannels"
	MethodWatchEntry            = "WatchEntry"
	MethodWatchEvents           = "WatchEvents"
)

// FullMethod returns the RPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Stream is the server side of a server-streaming call.
type Stream = grpc.ServerStreamingServer[structpb.Struct]

// InboxServer is the server API of the Inbox service.
type InboxServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Conversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Messages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PushChannels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEntry(*structpb.Struct, Stream) error
	WatchEvents(*structpb.Struct, Stream) error
}

type unaryCall func(InboxServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

type streamCall func(InboxServer, *structpb.Struct, Stream) error

// ServiceDesc describes the Inbox service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, InboxServer.Status),
		unary(MethodConversations, InboxServer.Conversations),
		unary(MethodLoadMoreConversations, InboxServer.LoadMoreConversations),
		unary(MethodMessages, InboxServer.Messages),
		unary(MethodLoadMoreMessages, InboxServer.LoadMoreMessages),
		unary(MethodFindConversation, InboxServer.FindConversation),
		unary(MethodCreateConversation, InboxServer.CreateConversation),
		unary(MethodEditConversation, InboxServer.EditConversation),
		unary(MethodSend, InboxServer.Send),
		unary(MethodPushChannels, InboxServer.PushChannels),
	},
	Streams: []grpc.StreamDesc{
		serverStream(MethodWatchEntry, InboxServer.WatchEntry),
		serverStream(MethodWatchEvents, InboxServer.WatchEvents),
	},
	Metadata: "inbox/v1/inbox.proto",
}

// RegisterInboxServer registers srv on s.
func RegisterInboxServer(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InboxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InboxServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func serverStream(name string, call streamCall) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(InboxServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
		},
	}
}
