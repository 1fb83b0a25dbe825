package admissionhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/admission/internal/util"
	"github.com/failsafe-go/admission/priority"
)

const (
	// PriorityHeader carries a priority ordinal, from 0 to priority.MaxOrdinal.
	PriorityHeader = "X-Priority"

	// PriorityGroupHeader carries a priority group, from 0 to priority.MaxGroup, for callers that don't assign levels.
	PriorityGroupHeader = "X-Priority-Group"

	// RequestStartHeader carries the unix time, in milliseconds, when a request was first queued.
	RequestStartHeader = "X-Request-Start"
)

// Engine decides whether to admit requests, and accepts queue delay feedback. It is implemented by admission.Engine.
type Engine interface {
	Admit(value priority.Value) bool
	FeedbackQueueDelay(delay time.Duration)
}

// HandlerOption configures a handler returned by NewHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	retryAfter time.Duration
	clock      util.Clock
}

// WithRetryAfter configures the Retry-After duration sent with shed responses, rounded up to whole seconds. Defaults
// to 1 second.
func WithRetryAfter(retryAfter time.Duration) HandlerOption {
	return func(c *handlerConfig) {
		c.retryAfter = retryAfter
	}
}

// WithClock configures the clock used to measure queue delays. Defaults to the wall clock.
func WithClock(clock util.Clock) HandlerOption {
	return func(c *handlerConfig) {
		c.clock = clock
	}
}

// NewHandler returns a new http.Handler that admits or sheds requests via the engine before calling innerHandler.
// Shed requests receive a 429 response with a Retry-After header. The request's priority is read from the
// PriorityHeader or PriorityGroupHeader and added to the request context, and requests without one are treated as the
// lowest priority. If a RequestStartHeader is present, the time the request spent queued is reported to the engine.
func NewHandler(engine Engine, innerHandler http.Handler, opts ...HandlerOption) http.Handler {
	c := &handlerConfig{
		retryAfter: time.Second,
		clock:      util.WallClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	retryAfter := strconv.Itoa(int((c.retryAfter + time.Second - 1) / time.Second))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay, ok := queueDelay(r, util.Now(c.clock)); ok {
			engine.FeedbackQueueDelay(delay)
		}

		value, ok := FromRequest(r)
		if !ok {
			value = priority.Value(priority.MaxOrdinal)
		}
		if !engine.Admit(value) {
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "request shed", http.StatusTooManyRequests)
			return
		}

		innerHandler.ServeHTTP(w, r.WithContext(priority.ContextWithValue(r.Context(), value)))
	})
}

// NewHandlerWithPriority extracts priority information from an incoming request's headers and adds it to the request
// context, without performing admission.
func NewHandlerWithPriority(innerHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if valueStr := r.Header.Get(PriorityHeader); valueStr != "" {
			if value, err := priority.ParseOrdinal(valueStr); err == nil {
				r = r.WithContext(priority.ContextWithValue(ctx, value))
			}
		} else if groupStr := r.Header.Get(PriorityGroupHeader); groupStr != "" {
			if group, err := strconv.Atoi(groupStr); err == nil && priority.Group(group).Valid() {
				r = r.WithContext(priority.ContextWithGroup(ctx, priority.Group(group)))
			}
		}
		innerHandler.ServeHTTP(w, r)
	})
}

// FromRequest returns the priority Value from the request's headers, else from the request's context. If only a group
// is present, a random level within the group is used.
func FromRequest(r *http.Request) (priority.Value, bool) {
	if valueStr := r.Header.Get(PriorityHeader); valueStr != "" {
		if value, err := priority.ParseOrdinal(valueStr); err == nil {
			return value, true
		}
	}
	if groupStr := r.Header.Get(PriorityGroupHeader); groupStr != "" {
		if group, err := strconv.Atoi(groupStr); err == nil && priority.Group(group).Valid() {
			return priority.Group(group).Random(), true
		}
	}
	return priority.FromContext(r.Context())
}

func queueDelay(r *http.Request, now time.Time) (time.Duration, bool) {
	startStr := r.Header.Get(RequestStartHeader)
	if startStr == "" {
		return 0, false
	}
	startMillis, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, false
	}
	delay := now.Sub(time.UnixMilli(startMillis))
	if delay < 0 {
		return 0, false
	}
	return delay, true
}
