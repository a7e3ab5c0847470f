package engine

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "matchroom.v1.Engine"

// FullMethod returns "/matchroom.v1.Engine/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// PublicMethods can be called without a bearer token.
var PublicMethods = []string{FullMethod("SignUp"), FullMethod("SignIn")}

// EngineServer is the server API. Every request and response is a
// google.protobuf.Struct.
type EngineServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Candidates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Swipe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SeedDemo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DismissNotice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LeaveRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Kick(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Presence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(EngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(EngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EngineServer).Watch(in, stream)
}

// ServiceDesc describes matchroom.v1.Engine for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignUp", EngineServer.SignUp),
		unary("SignIn", EngineServer.SignIn),
		unary("SignOut", EngineServer.SignOut),
		unary("Candidates", EngineServer.Candidates),
		unary("Swipe", EngineServer.Swipe),
		unary("SeedDemo", EngineServer.SeedDemo),
		unary("DismissNotice", EngineServer.DismissNotice),
		unary("ListRooms", EngineServer.ListRooms),
		unary("CreateRoom", EngineServer.CreateRoom),
		unary("DeleteRoom", EngineServer.DeleteRoom),
		unary("JoinRoom", EngineServer.JoinRoom),
		unary("LeaveRoom", EngineServer.LeaveRoom),
		unary("Kick", EngineServer.Kick),
		unary("Presence", EngineServer.Presence),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: ProtoFile,
}

// RegisterEngineServer attaches srv to s.
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}
