// Package health reports service readiness over gRPC, driven by a periodic
// store probe.
package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the gRPC health service name reported for the relay.
// The empty name reports the same status for the server as a whole.
const ServiceName = "chat.relay.v1.ChatRelay"

// Pinger is anything whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewGRPCServer builds a gRPC server exposing the standard health service.
// Both service names start as NOT_SERVING until the first probe succeeds.
func NewGRPCServer() (*grpc.Server, *grpchealth.Server) {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)

	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// StatusSetter is satisfied by the grpc health server.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// StartProbe pings p once immediately and then every interval, updating hs.
// It stops when ctx is done.
func StartProbe(ctx context.Context, p Pinger, hs StatusSetter, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Health probe started", "interval", interval, "timeout", timeout)

		last := probe(ctx, p, hs, timeout, healthpb.HealthCheckResponse_UNKNOWN)
		for {
			select {
			case <-ticker.C:
				last = probe(ctx, p, hs, timeout, last)
			case <-ctx.Done():
				slog.Info("Health probe shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func probe(ctx context.Context, p Pinger, hs StatusSetter, timeout time.Duration, last healthpb.HealthCheckResponse_ServingStatus) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := p.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return last
		}
		status = healthpb.HealthCheckResponse_NOT_SERVING
		slog.Warn("Health probe failed", "error", err)
	}

	if status != last {
		slog.Info("Health status changed", "from", last.String(), "to", status.String())
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
	return status
}
