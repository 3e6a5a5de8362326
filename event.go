package lawicel

import "fmt"

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

// Event is a non fatal notification from an adapter. Err is set when the
// event was caused by an error so callers can match it with errors.Is.
type Event struct {
	Type    EventType
	Details string
	Err     error
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Details)
}
