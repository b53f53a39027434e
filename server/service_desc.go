package server

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "seckill.SeckillService"

type SeckillServiceServer interface {
	CreateVoucher(context.Context, *CreateVoucherRequest) (*CreateVoucherResponse, error)
	GetVoucher(context.Context, *GetVoucherRequest) (*GetVoucherResponse, error)
	UpdateVoucher(context.Context, *UpdateVoucherRequest) (*UpdateVoucherResponse, error)
	Admit(context.Context, *AdmitRequest) (*AdmitResponse, error)
	InquireOrder(context.Context, *InquireOrderRequest) (*InquireOrderResponse, error)
}

func unaryMethod[Req, Resp any](name string, call func(SeckillServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SeckillServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SeckillServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var SeckillServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SeckillServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateVoucher", SeckillServiceServer.CreateVoucher),
		unaryMethod("GetVoucher", SeckillServiceServer.GetVoucher),
		unaryMethod("UpdateVoucher", SeckillServiceServer.UpdateVoucher),
		unaryMethod("Admit", SeckillServiceServer.Admit),
		unaryMethod("InquireOrder", SeckillServiceServer.InquireOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seckill",
}

func RegisterSeckillServiceServer(s grpc.ServiceRegistrar, srv SeckillServiceServer) {
	s.RegisterService(&SeckillServiceDesc, srv)
}

// SeckillServiceClient calls the service with the json codec.
type SeckillServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSeckillServiceClient(cc grpc.ClientConnInterface) *SeckillServiceClient {
	return &SeckillServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SeckillServiceClient) CreateVoucher(ctx context.Context, in *CreateVoucherRequest, opts ...grpc.CallOption) (*CreateVoucherResponse, error) {
	return invoke[CreateVoucherResponse](ctx, c.cc, "CreateVoucher", in, opts)
}

func (c *SeckillServiceClient) GetVoucher(ctx context.Context, in *GetVoucherRequest, opts ...grpc.CallOption) (*GetVoucherResponse, error) {
	return invoke[GetVoucherResponse](ctx, c.cc, "GetVoucher", in, opts)
}

func (c *SeckillServiceClient) UpdateVoucher(ctx context.Context, in *UpdateVoucherRequest, opts ...grpc.CallOption) (*UpdateVoucherResponse, error) {
	return invoke[UpdateVoucherResponse](ctx, c.cc, "UpdateVoucher", in, opts)
}

func (c *SeckillServiceClient) Admit(ctx context.Context, in *AdmitRequest, opts ...grpc.CallOption) (*AdmitResponse, error) {
	return invoke[AdmitResponse](ctx, c.cc, "Admit", in, opts)
}

func (c *SeckillServiceClient) InquireOrder(ctx context.Context, in *InquireOrderRequest, opts ...grpc.CallOption) (*InquireOrderResponse, error) {
	return invoke[InquireOrderResponse](ctx, c.cc, "InquireOrder", in, opts)
}
