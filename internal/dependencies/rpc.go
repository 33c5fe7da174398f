package dependencies

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/orchestrator"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service reporting ComfyUI reachability.
const ServiceName = "comfyimagegen.Generator"

type Checker interface {
	HealthCheck(ctx context.Context) orchestrator.Health
}

// Rpc exposes grpc.health.v1 so orchestration tooling can probe the backend
// without going through the HTTP API.
type Rpc struct {
	server   *grpc.Server
	health   *health.Server
	checker  Checker
	port     string
	interval time.Duration
	log      *log.Logger
}

func NewRpc(checker Checker, config config.RpcConfig) *Rpc {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	interval := config.ProbeInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Rpc{
		server:   server,
		health:   hs,
		checker:  checker,
		port:     config.Port,
		interval: interval,
		log:      log.With("component", "rpc"),
	}
}

// Serve listens on the configured port and keeps the health status in sync
// with ComfyUI until ctx ends.
func (r *Rpc) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprint(":", r.port))
	if err != nil {
		return fmt.Errorf("error listening rpc: %w", err)
	}

	go r.probeLoop(ctx)

	r.log.Info("grpc health listening", "port", r.port)
	if err := r.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("error serving rpc: %w", err)
	}
	return nil
}

func (r *Rpc) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe checks ComfyUI once and publishes the result.
func (r *Rpc) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	h := r.checker.HealthCheck(ctx)
	if !h.Connected {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		r.log.Warn("comfyui unreachable", "err", h.Err)
	}

	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(ServiceName, status)
	return status
}

func (r *Rpc) Close() {
	r.health.Shutdown()
	r.server.GracefulStop()
}
