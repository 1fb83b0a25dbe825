package admissiongrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/failsafe-go/admission"
	"github.com/failsafe-go/admission/internal/testutil"
	"github.com/failsafe-go/admission/priority"
)

func check(t *testing.T, ctx context.Context, serverOpts []grpc.ServerOption, dialOpts ...grpc.DialOption) error {
	server, dialer := testutil.GrpcServer(serverOpts...)
	t.Cleanup(server.Stop)
	client := testutil.GrpcClient(dialer, dialOpts...)
	t.Cleanup(func() { client.Close() })

	_, err := healthpb.NewHealthClient(client).Check(ctx, &healthpb.HealthCheckRequest{})
	return err
}

func overloadedEngine(t *testing.T) *admission.Engine {
	engine, err := admission.New(admission.Config{})
	require.NoError(t, err)
	engine.Feedback(admission.CPU, .99)
	return engine
}

func TestNewServerInHandle(t *testing.T) {
	t.Run("should admit high priority requests", func(t *testing.T) {
		// Given
		engine := overloadedEngine(t)
		ctx := priority.ContextWithValue(context.Background(), priority.MustEncode(priority.Critical, 0))

		// When
		err := check(t, ctx,
			[]grpc.ServerOption{grpc.InTapHandle(NewServerInHandle(engine))},
			grpc.WithUnaryInterceptor(NewUnaryClientInterceptor()))

		// Then
		assert.NoError(t, err)
		assert.Equal(t, int64(1), engine.Status().WindowAdmitted)
	})

	t.Run("should shed low priority requests", func(t *testing.T) {
		// Given
		engine := overloadedEngine(t)
		ctx := priority.ContextWithGroup(context.Background(), priority.BestEffort)

		// When
		err := check(t, ctx,
			[]grpc.ServerOption{grpc.InTapHandle(NewServerInHandle(engine))},
			grpc.WithUnaryInterceptor(NewUnaryClientInterceptor()))

		// Then
		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	})

	t.Run("should shed requests without a priority", func(t *testing.T) {
		engine := overloadedEngine(t)

		err := check(t, context.Background(),
			[]grpc.ServerOption{grpc.InTapHandle(NewServerInHandle(engine))})

		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	})
}

func TestPriorityPropagation(t *testing.T) {
	tests := []struct {
		name  string
		ctx   context.Context
		check func(t *testing.T, value priority.Value, ok bool)
	}{
		{
			name: "should propagate value",
			ctx:  priority.ContextWithValue(context.Background(), 250),
			check: func(t *testing.T, value priority.Value, ok bool) {
				assert.True(t, ok)
				assert.Equal(t, priority.Value(250), value)
			},
		},
		{
			name: "should propagate group",
			ctx:  priority.ContextWithGroup(context.Background(), priority.Medium),
			check: func(t *testing.T, value priority.Value, ok bool) {
				assert.True(t, ok)
				assert.Equal(t, priority.Medium, value.Group())
			},
		},
		{
			name: "should not propagate when no priority is present",
			ctx:  context.Background(),
			check: func(t *testing.T, value priority.Value, ok bool) {
				assert.False(t, ok)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Given
			var value priority.Value
			var ok bool
			capture := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
				value, ok = priority.FromContext(ctx)
				return handler(ctx, req)
			}

			// When
			err := check(t, tc.ctx,
				[]grpc.ServerOption{grpc.ChainUnaryInterceptor(NewUnaryServerInterceptor(), capture)},
				grpc.WithUnaryInterceptor(NewUnaryClientInterceptor()))

			// Then
			require.NoError(t, err)
			tc.check(t, value, ok)
		})
	}
}
