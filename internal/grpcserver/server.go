// Package grpcserver runs the service's gRPC endpoint: the standard
// grpc.health.v1 service, fed by periodic dependency checks, and reflection.
//
// It handles only transport concerns: serving status, error mapping and
// request logging.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"dealscout/deal-service/internal/deals"
	"dealscout/deal-service/internal/gateway"
	"dealscout/deal-service/internal/logging"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "dealscout.DealService"

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Server wraps a grpc.Server with a health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewServer constructs a Server. Every service starts NOT_SERVING.
func NewServer() *Server {
	log := logging.With("grpc")
	s := &Server{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(log), errorInterceptor)),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetServing(false)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// SetServing flips the overall and service health status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Watch runs checks every interval until ctx ends, reporting SERVING only
// while all of them pass.
func (s *Server) Watch(ctx context.Context, interval time.Duration, checks ...Check) {
	run := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		for _, check := range checks {
			if err := check(cctx); err != nil {
				if ctx.Err() == nil {
					s.log.Warn().Err(err).Msg("dependency check failed")
				}
				s.SetServing(false)
				return
			}
		}
		s.SetServing(true)
	}

	run()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

// Stop marks the server NOT_SERVING and drains it, forcing a stop when ctx
// ends first.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// ─── Interceptors ────────────────────────────────────────────────────────────

func errorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return resp, nil
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, deals.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	var ve *deals.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	if errors.Is(err, gateway.ErrMissingAPIKey) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}
