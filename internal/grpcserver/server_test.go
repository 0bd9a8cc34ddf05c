package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"dealscout/deal-service/internal/deals"
	"dealscout/deal-service/internal/gateway"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer()
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, healthpb.NewHealthClient(conn)
}

func healthStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(t.Context(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

// probe is healthStatus for use inside Eventually, which polls off the test goroutine.
func probe(ctx context.Context, c healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestHealth_StartsNotServing(t *testing.T) {
	_, c := startServer(t)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ServiceName))
}

func TestHealth_SetServing(t *testing.T) {
	s, c := startServer(t)
	s.SetServing(true)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ServiceName))

	s.SetServing(false)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ServiceName))
}

func TestHealth_UnknownService(t *testing.T) {
	_, c := startServer(t)
	_, err := c.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "nope"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestWatch_FollowsChecks(t *testing.T) {
	s, c := startServer(t)
	var failing atomic.Bool
	check := func(context.Context) error {
		if failing.Load() {
			return errors.New("redis down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go s.Watch(ctx, 20*time.Millisecond, check)

	require.Eventually(t, func() bool {
		return probe(t.Context(), c) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	failing.Store(true)
	require.Eventually(t, func() bool {
		return probe(t.Context(), c) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		msg  string
	}{
		{&deals.NotFoundError{Entity: "Deal"}, codes.NotFound, "Deal not found"},
		{fmt.Errorf("wrapped: %w", &deals.ValidationError{Msg: "limit must be at least 3"}), codes.InvalidArgument, "limit must be at least 3"},
		{gateway.ErrMissingAPIKey, codes.FailedPrecondition, "gateway API key not configured"},
		{context.DeadlineExceeded, codes.DeadlineExceeded, "context deadline exceeded"},
		{errors.New("pgx: connection reset"), codes.Internal, "internal server error"},
		{status.Error(codes.Unavailable, "draining"), codes.Unavailable, "draining"},
	}
	for _, tt := range tests {
		st, ok := status.FromError(toGRPCError(tt.err))
		require.True(t, ok)
		require.Equal(t, tt.code, st.Code(), tt.err.Error())
		require.Equal(t, tt.msg, st.Message())
	}
}

func TestErrorInterceptor(t *testing.T) {
	handler := func(context.Context, any) (any, error) { return nil, &deals.NotFoundError{Entity: "Alert"} }
	_, err := errorInterceptor(t.Context(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"}, handler)
	require.Equal(t, codes.NotFound, status.Code(err))

	ok := func(context.Context, any) (any, error) { return "fine", nil }
	resp, err := errorInterceptor(t.Context(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"}, ok)
	require.NoError(t, err)
	require.Equal(t, "fine", resp)
}
