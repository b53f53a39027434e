package server

import (
	"context"
	"errors"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/anchel/voucher-seckill/service"
	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type VoucherManager interface {
	CreateVoucher(ctx context.Context, v model.Voucher) (int64, error)
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	GetHotVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	UpdateVoucher(ctx context.Context, v model.Voucher) error
}

type Admitter interface {
	Admit(ctx context.Context, voucherID, userID int64) (model.AdmitResult, error)
}

type OrderInquirer interface {
	InquireOrder(ctx context.Context, orderID, userID int64) (service.InquireResult, error)
}

type SeckillServer struct {
	vouchers VoucherManager
	gate     Admitter
	inquirer OrderInquirer
}

func NewSeckillServer(vouchers VoucherManager, gate Admitter, inquirer OrderInquirer) *SeckillServer {
	return &SeckillServer{vouchers: vouchers, gate: gate, inquirer: inquirer}
}

// NewGRPCServer builds a grpc.Server with the seckill service registered.
func NewGRPCServer(srv SeckillServiceServer, m *obs.Metrics, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(observeUnary(m)))
	s := grpc.NewServer(opts...)
	RegisterSeckillServiceServer(s, srv)
	return s
}

func observeUnary(m *obs.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.ObserveMS(info.FullMethod, float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			log.Debug("rpc failed", "method", info.FullMethod, "code", status.Code(err).String(), "err", err)
		}
		return resp, err
	}
}

// toStatus maps service errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, service.ErrInvalidVoucher):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrVoucherNotFound), errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *SeckillServer) CreateVoucher(ctx context.Context, in *CreateVoucherRequest) (*CreateVoucherResponse, error) {
	log.Info("CreateVoucher received", "title", in.Title, "stock", in.Stock)
	if in.Title == "" {
		return nil, status.Error(codes.InvalidArgument, "title is empty")
	}
	if in.BeginTime == 0 {
		return nil, status.Error(codes.InvalidArgument, "begin_time is empty")
	}
	if in.EndTime == 0 {
		return nil, status.Error(codes.InvalidArgument, "end_time is empty")
	}

	id, err := s.vouchers.CreateVoucher(ctx, model.Voucher{
		Title:     in.Title,
		Stock:     in.Stock,
		BeginTime: fromMillis(in.BeginTime),
		EndTime:   fromMillis(in.EndTime),
	})
	if err != nil {
		log.Error("service.CreateVoucher", "err", err)
		return nil, toStatus(err)
	}
	return &CreateVoucherResponse{ID: id}, nil
}

func (s *SeckillServer) GetVoucher(ctx context.Context, in *GetVoucherRequest) (*GetVoucherResponse, error) {
	if in.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is empty")
	}

	var (
		v   *model.Voucher
		err error
	)
	if in.Hot {
		v, err = s.vouchers.GetHotVoucher(ctx, in.ID)
	} else {
		v, err = s.vouchers.GetVoucher(ctx, in.ID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetVoucherResponse{Voucher: toVoucher(v)}, nil
}

func (s *SeckillServer) UpdateVoucher(ctx context.Context, in *UpdateVoucherRequest) (*UpdateVoucherResponse, error) {
	if in.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is empty")
	}

	err := s.vouchers.UpdateVoucher(ctx, model.Voucher{
		ID:        in.ID,
		Title:     in.Title,
		BeginTime: fromMillis(in.BeginTime),
		EndTime:   fromMillis(in.EndTime),
	})
	if err != nil {
		log.Error("service.UpdateVoucher", "id", in.ID, "err", err)
		return nil, toStatus(err)
	}
	return &UpdateVoucherResponse{}, nil
}

func (s *SeckillServer) Admit(ctx context.Context, in *AdmitRequest) (*AdmitResponse, error) {
	if in.VoucherID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "voucher_id is empty")
	}
	if in.UserID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id is empty")
	}

	res, err := s.gate.Admit(ctx, in.VoucherID, in.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AdmitResponse{Status: res.Status.String(), OrderID: res.OrderID}, nil
}

func (s *SeckillServer) InquireOrder(ctx context.Context, in *InquireOrderRequest) (*InquireOrderResponse, error) {
	if in.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is empty")
	}
	if in.UserID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id is empty")
	}

	res, err := s.inquirer.InquireOrder(ctx, in.OrderID, in.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InquireOrderResponse{Status: res.Status.String(), Order: toOrder(res.Order)}, nil
}
