// Package grpclive carries live frames over a bidirectional gRPC stream.
// Each stream message is a wrapperspb.BytesValue holding one JSON frame.
package grpclive

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.live.v1.Live"

const connectMethod = "/" + ServiceName + "/Connect"

// Stream is the server side of one Connect call.
type Stream = grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]

// Server handles Connect streams.
type Server interface {
	Connect(stream Stream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chatsync/live/v1/live.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(Server).Connect(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// Register adds the live service to s.
func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

// TokenFromContext extracts the bearer token sent in the authorization
// metadata of an incoming stream.
func TokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimPrefix(vals[0], "Bearer ")
}
