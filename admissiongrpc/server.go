package admissiongrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/tap"

	"github.com/failsafe-go/admission/priority"
)

const (
	priorityMetadataKey      = "x-priority"
	priorityGroupMetadataKey = "x-priority-group"
)

// Engine decides whether to admit requests. It is implemented by admission.Engine.
type Engine interface {
	Admit(value priority.Value) bool
}

// NewServerInHandle returns a tap.ServerInHandle that admits or sheds requests via the engine, using the priority from
// the incoming metadata, or the lowest priority if none is present. Shed requests fail with codes.ResourceExhausted.
// This should be preferred over an interceptor since it rejects requests before any resources are spent on them.
func NewServerInHandle(engine Engine) tap.ServerInHandle {
	return func(ctx context.Context, info *tap.Info) (context.Context, error) {
		value, ok := fromIncomingContext(ctx)
		if !ok {
			value = priority.Value(priority.MaxOrdinal)
		}
		if !engine.Admit(value) {
			return ctx, status.Errorf(codes.ResourceExhausted, "request shed for %s", info.FullMethodName)
		}
		return priority.ContextWithValue(ctx, value), nil
	}
}

// NewUnaryServerInterceptor returns a grpc.UnaryServerInterceptor that extracts priority information from the incoming
// metadata and adds it to the handling context. If a priority ordinal is present it's added to the context, else a
// priority group is added if present.
func NewUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		if values := md.Get(priorityMetadataKey); len(values) > 0 {
			if value, err := priority.ParseOrdinal(values[0]); err == nil {
				return handler(priority.ContextWithValue(ctx, value), req)
			}
		}
		if groups := md.Get(priorityGroupMetadataKey); len(groups) > 0 {
			if group, ok := parseGroup(groups[0]); ok {
				return handler(priority.ContextWithGroup(ctx, group), req)
			}
		}
		return handler(ctx, req)
	}
}

func fromIncomingContext(ctx context.Context) (priority.Value, bool) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(priorityMetadataKey); len(values) > 0 {
			if value, err := priority.ParseOrdinal(values[0]); err == nil {
				return value, true
			}
		}
		if groups := md.Get(priorityGroupMetadataKey); len(groups) > 0 {
			if group, ok := parseGroup(groups[0]); ok {
				return group.Random(), true
			}
		}
	}
	return priority.FromContext(ctx)
}
