package admissiongrpc

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/failsafe-go/admission/priority"
)

// NewUnaryClientInterceptor returns a grpc.UnaryClientInterceptor that propagates priority information from a client
// context to a server via outgoing metadata. If a priority Value is present it's propagated, else a priority Group is
// propagated if present.
func NewUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoingContext(ctx), method, req, reply, cc, opts...)
	}
}

// NewStreamClientInterceptor is like NewUnaryClientInterceptor, but for streams.
func NewStreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(outgoingContext(ctx), desc, cc, method, opts...)
	}
}

func outgoingContext(ctx context.Context) context.Context {
	if untypedValue := ctx.Value(priority.ValueKey); untypedValue != nil {
		if value, ok := untypedValue.(priority.Value); ok && value.Valid() {
			return metadata.AppendToOutgoingContext(ctx, priorityMetadataKey, strconv.Itoa(value.Ordinal()))
		}
	}
	if untypedGroup := ctx.Value(priority.GroupKey); untypedGroup != nil {
		if group, ok := untypedGroup.(priority.Group); ok && group.Valid() {
			return metadata.AppendToOutgoingContext(ctx, priorityGroupMetadataKey, strconv.Itoa(int(group)))
		}
	}
	return ctx
}

func parseGroup(s string) (priority.Group, bool) {
	group, err := strconv.Atoi(s)
	if err != nil || !priority.Group(group).Valid() {
		return 0, false
	}
	return priority.Group(group), true
}
