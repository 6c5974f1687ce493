package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/joseph-ayodele/invoice-ingest/internal/rpc"
)

const ServiceName = "documents.v1.DocumentsService"

const (
	MethodSubmit  = "/" + ServiceName + "/Submit"
	MethodGetByID = "/" + ServiceName + "/GetById"
	MethodHealth  = "/" + ServiceName + "/Health"
	MethodExport  = "/" + ServiceName + "/Export"
)

// DocumentsServer is the server API of documents.v1.DocumentsService.
type DocumentsServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	GetByID(ctx context.Context, req *GetByIDRequest) (*DocumentReply, error)
	Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error)
	Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error)
}

var _ DocumentsServer = (*DocumentsService)(nil)

// unary builds a method handler decoding Req and dispatching through the interceptor chain.
func unary[Req any, Resp any](name string, call func(DocumentsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DocumentsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DocumentsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes documents.v1.DocumentsService. Messages travel with the JSON codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", DocumentsServer.Submit),
		unary("GetById", DocumentsServer.GetByID),
		unary("Health", DocumentsServer.Health),
		unary("Export", DocumentsServer.Export),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "documents/v1/documents.json",
}

func RegisterDocumentsServer(s grpc.ServiceRegistrar, srv DocumentsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// DocumentsClient calls documents.v1.DocumentsService.
type DocumentsClient struct {
	cc grpc.ClientConnInterface
}

func NewDocumentsClient(cc grpc.ClientConnInterface) *DocumentsClient {
	return &DocumentsClient{cc: cc}
}

func (c *DocumentsClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	return out, c.cc.Invoke(ctx, MethodSubmit, in, out, append(opts, rpc.CallJSON())...)
}

func (c *DocumentsClient) GetByID(ctx context.Context, in *GetByIDRequest, opts ...grpc.CallOption) (*DocumentReply, error) {
	out := new(DocumentReply)
	return out, c.cc.Invoke(ctx, MethodGetByID, in, out, append(opts, rpc.CallJSON())...)
}

func (c *DocumentsClient) Health(ctx context.Context, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	return out, c.cc.Invoke(ctx, MethodHealth, &HealthRequest{}, out, append(opts, rpc.CallJSON())...)
}

func (c *DocumentsClient) Export(ctx context.Context, in *ExportRequest, opts ...grpc.CallOption) (*ExportResponse, error) {
	out := new(ExportResponse)
	return out, c.cc.Invoke(ctx, MethodExport, in, out, append(opts, rpc.CallJSON())...)
}
