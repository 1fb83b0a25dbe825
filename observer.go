package admission

import (
	"github.com/failsafe-go/admission/priority"
)

//go:generate mockgen -source=observer.go -destination=internal/mocks/observer.go -package=mocks

// Observer is notified of admission decisions, and can be used to export metrics. Implementations must be concurrency
// safe and should not block, since they're called on the request path.
type Observer interface {
	// Enter is called when a request is admitted.
	Enter(value priority.Value)

	// ShedByCPU is called when a request is rejected because of CPU utilization.
	ShedByCPU(value priority.Value)

	// ShedByQueue is called when a request is rejected because of queue delay or errors.
	ShedByQueue(value priority.Value)

	// Close is called once when the Engine is closed.
	Close()
}

// NoopObserver is an Observer that ignores every notification.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) Enter(priority.Value)       {}
func (NoopObserver) ShedByCPU(priority.Value)   {}
func (NoopObserver) ShedByQueue(priority.Value) {}
func (NoopObserver) Close()                     {}
