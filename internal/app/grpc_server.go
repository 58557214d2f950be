package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/invoicer/internal/health"
)

// grpcServiceName — имя сервиса в grpc.health.v1; пустое имя описывает процесс целиком.
const grpcServiceName = "invoicer.Pipeline"

const grpcHealthRefresh = 30 * time.Second

// grpcHealthServer отдаёт результат проверок через стандартный grpc.health.v1.
type grpcHealthServer struct {
	server *grpc.Server
	health *health.Server
	addr   net.Addr
	errCh  chan error
}

// startGRPCServer поднимает gRPC health и reflection. Статус обновляется
// по результатам HTTP-проверок раз в grpcHealthRefresh.
func startGRPCServer(ctx context.Context, addr string, logger *log.Entry, checks *healthcheck.Handler) (*grpcHealthServer, error) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}

	s := &grpcHealthServer{
		server: server,
		health: healthServer,
		addr:   lis.Addr(),
		errCh:  make(chan error, 1),
	}
	s.refresh(ctx, checks)

	go func() {
		logger.Infof("gRPC health сервер слушает %s", s.addr)
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.errCh <- err
		}
	}()

	go func() {
		ticker := time.NewTicker(grpcHealthRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refresh(ctx, checks)
			}
		}
	}()

	return s, nil
}

func (s *grpcHealthServer) refresh(ctx context.Context, checks *healthcheck.Handler) {
	status := healthpb.HealthCheckResponse_SERVING
	if checks != nil && checks.Evaluate(ctx).Status == healthcheck.StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(grpcServiceName, status)
}

// Stop переводит статус в NOT_SERVING и останавливает сервер.
func (s *grpcHealthServer) Stop(logger *log.Entry) {
	if s == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		s.server.Stop()
	}
}
