package admissionhttp

import (
	"net/http"
	"strconv"

	"github.com/failsafe-go/admission/internal/util"
	"github.com/failsafe-go/admission/priority"
)

type priorityRoundTripper struct {
	next  http.RoundTripper
	clock util.Clock
}

// NewRoundTripper propagates priority information from a client context to a server via HTTP headers, and stamps each
// request with a RequestStartHeader so the server can measure queue delay. If a Value is present in the context it's
// propagated, else a Group is propagated if present. If innerRoundTripper is nil, http.DefaultTransport will be used.
func NewRoundTripper(innerRoundTripper http.RoundTripper) http.RoundTripper {
	if innerRoundTripper == nil {
		innerRoundTripper = http.DefaultTransport
	}
	return &priorityRoundTripper{
		next:  innerRoundTripper,
		clock: util.WallClock,
	}
}

func (p *priorityRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	req = req.Clone(ctx)

	if untypedValue := ctx.Value(priority.ValueKey); untypedValue != nil {
		if value, ok := untypedValue.(priority.Value); ok && value.Valid() {
			SetPriorityHeader(req, value)
		}
	} else if untypedGroup := ctx.Value(priority.GroupKey); untypedGroup != nil {
		if group, ok := untypedGroup.(priority.Group); ok && group.Valid() {
			req.Header.Set(PriorityGroupHeader, strconv.Itoa(int(group)))
		}
	}
	if req.Header.Get(RequestStartHeader) == "" {
		req.Header.Set(RequestStartHeader, strconv.FormatInt(util.Now(p.clock).UnixMilli(), 10))
	}

	return p.next.RoundTrip(req)
}

// SetPriorityHeader sets the PriorityHeader on the request to the value's ordinal.
func SetPriorityHeader(req *http.Request, value priority.Value) {
	req.Header.Set(PriorityHeader, strconv.Itoa(value.Ordinal()))
}
