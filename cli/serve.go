package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anchel/voucher-seckill/lib/cacheclient"
	"github.com/anchel/voucher-seckill/lib/idworker"
	"github.com/anchel/voucher-seckill/lib/redislock"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/anchel/voucher-seckill/mq"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/anchel/voucher-seckill/redisclient"
	"github.com/anchel/voucher-seckill/server"
	"github.com/anchel/voucher-seckill/service"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const windowCacheResetInterval = time.Hour

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service and the order pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.Config

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	rootCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wgRoot := sync.WaitGroup{}

	shutdownTracer, err := obs.InitTracer(rootCtx, "voucher-seckill", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown", "err", err)
		}
	}()

	// init redis
	rdb, err := redisclient.InitRedis(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer redisclient.Close()

	st, err := openStore(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	metrics := obs.NewMetrics()
	locker := redislock.NewLocker(rdb, metrics)
	cache := cacheclient.New(rdb, locker, nil, metrics, cacheclient.Options{
		NullTTL:        cfg.CacheNullTTL,
		LockTTL:        cfg.CacheLockTTL,
		RetryBackoff:   cfg.CacheRetryBackoff,
		RebuildWorkers: cfg.RebuildWorkers,
	})
	window := service.NewWindowCache()
	vouchers := service.NewVoucherService(st, rdb, cache, window, nil, cfg.CacheTTL)
	gate := service.NewGate(rdb, idworker.New(rdb, nil), vouchers, nil, metrics)

	sinks := []service.SettlementSink{service.NewRedisNotifier(rdb)}
	var results service.ResultLookup

	if cfg.MongoURI != "" {
		mc, err := mongodb.InitMongoDB(rootCtx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return fmt.Errorf("init mongodb: %w", err)
		}
		defer mc.Close(context.Background())

		journal, err := mongodb.NewResultJournal(mc)
		if err != nil {
			return err
		}
		sinks = append(sinks, journal)
		results = journal
	}

	if cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	handler := service.NewOrderHandler(st, rdb, locker, cfg.OrderLockTTL, nil, metrics, sinks...)
	pipeline := service.NewPipeline(rdb, handler, service.PipelineOptions{
		Group:           cfg.StreamGroup,
		Consumer:        cfg.ConsumerName(),
		Block:           cfg.StreamBlock,
		RecoveryBackoff: cfg.RecoveryBackoff,
	}, metrics)
	sub := service.NewSubscriber(rdb)
	inquirer := service.NewInquirer(st, sub, results, cfg.InquireTimeout)

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		if err := sub.Run(rootCtx); err != nil {
			log.Error("subscriber stopped", "err", err)
			cancel()
		}
	}()

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		if err := pipeline.Run(rootCtx); err != nil {
			log.Error("order pipeline stopped", "err", err)
			cancel()
		}
	}()

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		window.Run(rootCtx, windowCacheResetInterval)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		cancel()
		wgRoot.Wait()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s := server.NewGRPCServer(server.NewSeckillServer(vouchers, gate, inquirer), metrics)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		<-rootCtx.Done()
		hs.Shutdown()
		s.GracefulStop()

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
	}()

	log.Info("server listening", "addr", lis.Addr().String(), "consumer", cfg.ConsumerName(), "store", cfg.StoreDriver)
	if err := s.Serve(lis); err != nil {
		log.Error("failed to serve", "err", err)
	}

	cancel()
	wgRoot.Wait()
	cache.Wait()

	log.Info("server exit")
	return nil
}
