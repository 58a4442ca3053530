package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/lobby/internal/admin"
	"github.com/cory-johannsen/lobby/internal/config"
)

func startAdmin(t *testing.T) (*admin.Server, healthpb.HealthClient, <-chan error) {
	t.Helper()
	srv := admin.NewServer(config.AdminConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn), errCh
}

func check(t *testing.T, hc healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func TestHealthReportsServingWhileRunning(t *testing.T) {
	srv, hc, errCh := startAdmin(t)

	st, err := check(t, hc, admin.ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	srv.SetServing(false)
	st, err = check(t, hc, admin.ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	srv.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin server did not stop")
	}
}

func TestHealthUnknownService(t *testing.T) {
	srv, hc, _ := startAdmin(t)
	defer srv.Stop()

	_, err := check(t, hc, "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestStartFailsOnBadAddress(t *testing.T) {
	srv := admin.NewServer(config.AdminConfig{Host: "256.0.0.1", Port: 1}, zaptest.NewLogger(t))
	assert.Error(t, srv.Start())
}
