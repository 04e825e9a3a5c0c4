package taskmgr

import (
	"context"
	"fmt"

	"github.com/me/exportq/pkg/model"
)

// Task is a unit of work executed outside the manager.
//
// Start and Status are called while the manager lock is held, so they must
// return promptly; Config.CallTimeout bounds them. Cancel is called without the
// lock and may block until the platform acknowledges.
type Task interface {
	// Start begins asynchronous execution.
	Start(ctx context.Context) error

	// Cancel requests termination.
	Cancel(ctx context.Context) error

	// Status reports the current platform state and a label for logging.
	Status(ctx context.Context) (model.TaskStatus, error)
}

// Describer is implemented by tasks that can name themselves without a
// status round trip.
type Describer interface {
	Describe() string
}

// Observer receives scheduling events. It is called outside the manager lock,
// one event at a time, in the order the state changes happened. It must not
// block for long: a slow observer delays the producer or tick that flushes.
type Observer interface {
	Observe(ev model.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev model.Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev model.Event) {
	f(ev)
}

func describe(t Task) string {
	if d, ok := t.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", t)
}
