package g

import "fmt"

type Kind uint8

const (
	KindTimer Kind = iota + 1
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindCallback:
		return "callback"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one unit of work for the dispatch loop. Id is opaque to the
// loop; the engine maps it to a script continuation.
type Event struct {
	Kind    Kind
	Id      int64
	Payload any
}

// SubmitFunc hands an event to the dispatch loop without waiting for it.
type SubmitFunc func(ev Event) error

func TimerEvent(id int64) Event {
	return Event{Kind: KindTimer, Id: id}
}

func CallbackEvent(id int64, payload any) Event {
	return Event{Kind: KindCallback, Id: id, Payload: payload}
}

func (ev Event) String() string {
	return fmt.Sprintf("%s %d", ev.Kind, ev.Id)
}
