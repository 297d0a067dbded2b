package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Every request and response of chat.v1.ChatService is a
// google.protobuf.Struct. Realtime traffic on Connect uses the envelope
// {"event": <name>, "data": {...}}.
const chatServiceName = "chat.v1.ChatService"

// Full method names, used by interceptors.
const (
	methodRegister            = "/" + chatServiceName + "/Register"
	methodLogin               = "/" + chatServiceName + "/Login"
	methodConnect             = "/" + chatServiceName + "/Connect"
	methodGetConnectionStatus = "/" + chatServiceName + "/GetConnectionStatus"
	methodSetBlocked          = "/" + chatServiceName + "/SetBlocked"
	methodDeleteChat          = "/" + chatServiceName + "/DeleteChat"
	methodGetHistory          = "/" + chatServiceName + "/GetHistory"
	methodListChats           = "/" + chatServiceName + "/ListChats"
)

// ChatServiceServer is the server API for chat.v1.ChatService.
type ChatServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConnectionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetBlocked(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(ChatService_ConnectServer) error
	GetHistory(*structpb.Struct, ChatService_GetHistoryServer) error
	ListChats(*structpb.Struct, ChatService_ListChatsServer) error
}

type (
	ChatService_ConnectServer    = grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]
	ChatService_GetHistoryServer = grpc.ServerStreamingServer[structpb.Struct]
	ChatService_ListChatsServer  = grpc.ServerStreamingServer[structpb.Struct]
)

// unaryHandler adapts one Struct-in/Struct-out method to grpc.MethodHandler.
func unaryHandler(fullMethod string, call func(ChatServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ChatServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).Connect(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func getHistoryHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).GetHistory(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func listChatsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).ListChats(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// chatServiceDesc describes chat.v1.ChatService for grpc.Server.
var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(methodRegister, ChatServiceServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(methodLogin, ChatServiceServer.Login)},
		{MethodName: "GetConnectionStatus", Handler: unaryHandler(methodGetConnectionStatus, ChatServiceServer.GetConnectionStatus)},
		{MethodName: "SetBlocked", Handler: unaryHandler(methodSetBlocked, ChatServiceServer.SetBlocked)},
		{MethodName: "DeleteChat", Handler: unaryHandler(methodDeleteChat, ChatServiceServer.DeleteChat)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Connect", Handler: connectHandler, ServerStreams: true, ClientStreams: true},
		{StreamName: "GetHistory", Handler: getHistoryHandler, ServerStreams: true},
		{StreamName: "ListChats", Handler: listChatsHandler, ServerStreams: true},
	},
	Metadata: "chat/v1/chat.proto",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

// chatServiceClient is the client side of chat.v1.ChatService.
type chatServiceClient struct {
	cc grpc.ClientConnInterface
}

func newChatServiceClient(cc grpc.ClientConnInterface) *chatServiceClient {
	return &chatServiceClient{cc: cc}
}

func (c *chatServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) Register(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRegister, in, opts...)
}

func (c *chatServiceClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodLogin, in, opts...)
}

func (c *chatServiceClient) GetConnectionStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetConnectionStatus, in, opts...)
}

func (c *chatServiceClient) DeleteChat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDeleteChat, in, opts...)
}

func (c *chatServiceClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &chatServiceDesc.Streams[0], methodConnect, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}

func (c *chatServiceClient) GetHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &chatServiceDesc.Streams[1], methodGetHistory, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
