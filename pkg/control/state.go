package control

import "log"

// State is the process-wide capture mode
type State int32

const (
	Disabled State = iota
	Recording
	Streaming
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Recording:
		return "recording"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Notifier delivers human-readable notices to whoever issued a control command.
// Streaming notices arrive from the stream goroutine, so implementations must
// be safe for concurrent use.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

// notify logs msg and forwards it to n when n is set
func notify(n Notifier, msg string) {
	log.Printf("[chunkdebug] %s", msg)
	if n != nil {
		n.Notify(msg)
	}
}
