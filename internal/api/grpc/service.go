package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified ingest service name.
const ServiceName = "voicedash.v1.SessionIngest"

// Full method names.
const (
	MethodPushSegments    = "/" + ServiceName + "/PushSegments"
	MethodPushParticipant = "/" + ServiceName + "/PushParticipant"
	MethodSendText        = "/" + ServiceName + "/SendText"
	MethodGetView         = "/" + ServiceName + "/GetView"
)

// IngestServer is the server API of the ingest service. Messages are
// google.protobuf.Struct documents so that no generated stubs are needed.
type IngestServer interface {
	PushSegments(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	PushParticipant(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetView(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the ingest service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PushSegments",
			Handler:    unaryHandler(MethodPushSegments, newStruct, IngestServer.PushSegments),
		},
		{
			MethodName: "PushParticipant",
			Handler:    unaryHandler(MethodPushParticipant, newStruct, IngestServer.PushParticipant),
		},
		{
			MethodName: "SendText",
			Handler:    unaryHandler(MethodSendText, newStruct, IngestServer.SendText),
		},
		{
			MethodName: "GetView",
			Handler:    unaryHandler(MethodGetView, newEmpty, IngestServer.GetView),
		},
	},
	Streams: []grpc.StreamDesc{},
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

// unaryHandler adapts a typed IngestServer method to a grpc.MethodHandler,
// running it through the server's interceptor chain.
func unaryHandler[Req, Resp proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(IngestServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IngestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(IngestServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
