package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/mentorslots/libs/grpcx"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthInterval = 5 * time.Second

// startGRPCServer serves grpc.health.v1.Health. The overall status is SERVING while ready reports no failures.
func startGRPCServer(ctx context.Context, logger *slog.Logger, port string, ready func(context.Context) []string) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRecoveryInterceptor(logger),
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go watchHealth(ctx, hs, ready)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	return srv, nil
}

func watchHealth(ctx context.Context, hs *health.Server, ready func(context.Context) []string) {
	update := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if len(ready(ctx)) == 0 {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
	}
	update()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
