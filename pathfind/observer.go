package pathfind

import "time"

// Result summarises one finished search for an Observer.
type Result struct {
	Unit uint32
	// nil on success
	Err       error
	Elapsed   time.Duration
	Popped    int
	Dropped   int
	Positions int
	Records   int
}

// Observer receives engine events. Implementations must be safe for
// concurrent use; OnComplete is called from the worker goroutine.
type Observer interface {
	OnSubmit(skipQueue bool, pending int)
	OnReject()
	OnComplete(r Result)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) OnSubmit(bool, int) {}
func (NoopObserver) OnReject()          {}
func (NoopObserver) OnComplete(Result)  {}
