// Package proto defines the gRPC RecordingService.
//
// The descriptor and client are written by hand in the shape protoc-gen-go-grpc
// produces; messages are plain structs carried by a JSON codec.
package proto

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "exgstream.RecordingService"

// RecordingServiceServer is the server-side interface for the RecordingService.
type RecordingServiceServer interface {
	SetSelectedChannels(context.Context, *SetSelectedChannelsRequest) (*SetSelectedChannelsResponse, error)
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	ExportOne(context.Context, *ExportOneRequest) (*ExportOneResponse, error)
	ExportAll(context.Context, *ExportAllRequest) (*ExportAllResponse, error)
	DeleteOne(context.Context, *DeleteOneRequest) (*DeleteOneResponse, error)
	DeleteAll(context.Context, *DeleteAllRequest) (*DeleteAllResponse, error)
}

// RecordingServiceClient is the client-side interface for the RecordingService.
type RecordingServiceClient interface {
	SetSelectedChannels(ctx context.Context, in *SetSelectedChannelsRequest, opts ...grpc.CallOption) (*SetSelectedChannelsResponse, error)
	ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error)
	ExportOne(ctx context.Context, in *ExportOneRequest, opts ...grpc.CallOption) (*ExportOneResponse, error)
	ExportAll(ctx context.Context, in *ExportAllRequest, opts ...grpc.CallOption) (*ExportAllResponse, error)
	DeleteOne(ctx context.Context, in *DeleteOneRequest, opts ...grpc.CallOption) (*DeleteOneResponse, error)
	DeleteAll(ctx context.Context, in *DeleteAllRequest, opts ...grpc.CallOption) (*DeleteAllResponse, error)
}

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for the RecordingService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RecordingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetSelectedChannels", Handler: _RecordingService_SetSelectedChannels_Handler},
		{MethodName: "ListFiles", Handler: _RecordingService_ListFiles_Handler},
		{MethodName: "ExportOne", Handler: _RecordingService_ExportOne_Handler},
		{MethodName: "ExportAll", Handler: _RecordingService_ExportAll_Handler},
		{MethodName: "DeleteOne", Handler: _RecordingService_DeleteOne_Handler},
		{MethodName: "DeleteAll", Handler: _RecordingService_DeleteAll_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/recording.proto",
}

// RegisterRecordingServiceServer registers the implementation with a gRPC server.
func RegisterRecordingServiceServer(s grpc.ServiceRegistrar, srv RecordingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary decodes the request and runs it through the server's interceptor chain.
func unary[Req any](
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
	method string, call func(RecordingServiceServer, context.Context, *Req) (interface{}, error),
) (interface{}, error) {
	in := new(Req)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(RecordingServiceServer)
	if interceptor == nil {
		return call(s, ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return call(s, ctx, req.(*Req))
	}
	return interceptor(ctx, in, info, handler)
}

func _RecordingService_SetSelectedChannels_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "SetSelectedChannels",
		func(s RecordingServiceServer, ctx context.Context, in *SetSelectedChannelsRequest) (interface{}, error) {
			return s.SetSelectedChannels(ctx, in)
		})
}

func _RecordingService_ListFiles_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "ListFiles",
		func(s RecordingServiceServer, ctx context.Context, in *ListFilesRequest) (interface{}, error) {
			return s.ListFiles(ctx, in)
		})
}

func _RecordingService_ExportOne_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "ExportOne",
		func(s RecordingServiceServer, ctx context.Context, in *ExportOneRequest) (interface{}, error) {
			return s.ExportOne(ctx, in)
		})
}

func _RecordingService_ExportAll_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "ExportAll",
		func(s RecordingServiceServer, ctx context.Context, in *ExportAllRequest) (interface{}, error) {
			return s.ExportAll(ctx, in)
		})
}

func _RecordingService_DeleteOne_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "DeleteOne",
		func(s RecordingServiceServer, ctx context.Context, in *DeleteOneRequest) (interface{}, error) {
			return s.DeleteOne(ctx, in)
		})
}

func _RecordingService_DeleteAll_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "DeleteAll",
		func(s RecordingServiceServer, ctx context.Context, in *DeleteAllRequest) (interface{}, error) {
			return s.DeleteAll(ctx, in)
		})
}

// ---- client implementation ----

type recordingServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordingServiceClient creates a RecordingService client. Every call
// uses the JSON codec.
func NewRecordingServiceClient(cc grpc.ClientConnInterface) RecordingServiceClient {
	return &recordingServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recordingServiceClient) SetSelectedChannels(ctx context.Context, in *SetSelectedChannelsRequest, opts ...grpc.CallOption) (*SetSelectedChannelsResponse, error) {
	return invoke[SetSelectedChannelsResponse](ctx, c.cc, "SetSelectedChannels", in, opts)
}

func (c *recordingServiceClient) ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	return invoke[ListFilesResponse](ctx, c.cc, "ListFiles", in, opts)
}

func (c *recordingServiceClient) ExportOne(ctx context.Context, in *ExportOneRequest, opts ...grpc.CallOption) (*ExportOneResponse, error) {
	return invoke[ExportOneResponse](ctx, c.cc, "ExportOne", in, opts)
}

func (c *recordingServiceClient) ExportAll(ctx context.Context, in *ExportAllRequest, opts ...grpc.CallOption) (*ExportAllResponse, error) {
	return invoke[ExportAllResponse](ctx, c.cc, "ExportAll", in, opts)
}

func (c *recordingServiceClient) DeleteOne(ctx context.Context, in *DeleteOneRequest, opts ...grpc.CallOption) (*DeleteOneResponse, error) {
	return invoke[DeleteOneResponse](ctx, c.cc, "DeleteOne", in, opts)
}

func (c *recordingServiceClient) DeleteAll(ctx context.Context, in *DeleteAllRequest, opts ...grpc.CallOption) (*DeleteAllResponse, error) {
	return invoke[DeleteAllResponse](ctx, c.cc, "DeleteAll", in, opts)
}
