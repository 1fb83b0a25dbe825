package priority

import (
	"context"
)

type key int

// ValueKey is a key to use with a Context that stores a priority Value.
const ValueKey key = 0

// GroupKey is a key to use with a Context that stores a priority Group.
const GroupKey key = 1

// ContextWithValue returns a context with the value stored with the ValueKey.
func ContextWithValue(ctx context.Context, value Value) context.Context {
	return context.WithValue(ctx, ValueKey, value)
}

// ContextWithGroup returns a context with the group stored with the GroupKey.
func ContextWithGroup(ctx context.Context, group Group) context.Context {
	return context.WithValue(ctx, GroupKey, group)
}

// FromContext returns the Value stored in the context. If only a Group is stored, a random level within the group is
// used. Returns false if the context holds no valid value or group.
func FromContext(ctx context.Context) (Value, bool) {
	if ctx == nil {
		return 0, false
	}
	if untypedValue := ctx.Value(ValueKey); untypedValue != nil {
		if value, ok := untypedValue.(Value); ok && value.Valid() {
			return value, true
		}
	}
	if untypedGroup := ctx.Value(GroupKey); untypedGroup != nil {
		if group, ok := untypedGroup.(Group); ok && group.Valid() {
			return group.Random(), true
		}
	}
	return 0, false
}
