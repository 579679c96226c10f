package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name
	ServiceName = "notebook.v1.Execution"
	// ExecuteMethod is the full method name of the bidirectional execute stream
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// ExecutionServer is implemented by kernels serving the Execute stream
type ExecutionServer interface {
	Execute(stream grpc.ServerStream) error
}

func executeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExecutionServer).Execute(stream)
}

// ServiceDesc describes the execution service for grpc.Server registration
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutionServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Execute",
			Handler:       executeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "notebook/v1/execution.proto",
}

// RegisterExecutionServer registers srv on a gRPC server
func RegisterExecutionServer(s grpc.ServiceRegistrar, srv ExecutionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// OpenExecuteStream opens the bidirectional execute stream on conn
func OpenExecuteStream(ctx context.Context, conn grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return conn.NewStream(ctx, &ServiceDesc.Streams[0], ExecuteMethod, opts...)
}

// MessageSender is the sending half of a client or server stream
type MessageSender interface {
	SendMsg(m interface{}) error
}

// MessageReceiver is the receiving half of a client or server stream
type MessageReceiver interface {
	RecvMsg(m interface{}) error
}

// Send encodes and sends an envelope
func Send(stream MessageSender, env *Envelope) error {
	msg, err := env.ToStruct()
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

// Recv receives and decodes an envelope
func Recv(stream MessageReceiver) (*Envelope, error) {
	msg := &structpb.Struct{}
	if err := stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return FromStruct(msg)
}
