package connection

import (
	"fmt"
	"time"

	"github.com/srg/pinelink/internal/device"
)

// NotificationKind classifies manager notifications
type NotificationKind int

const (
	// StateChanged is emitted for every lifecycle transition
	StateChanged NotificationKind = iota
	// ConnectionFailed is emitted once when a connect attempt fails
	ConnectionFailed
	// ConnectionLost is emitted once when an established stream is lost
	ConnectionLost
)

func (k NotificationKind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case ConnectionFailed:
		return "connection_failed"
	case ConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification reports a manager event to observers
type Notification struct {
	Kind       NotificationKind
	From       State // StateChanged only
	State      State
	Peripheral device.Peripheral
	Err        error // ConnectionFailed and ConnectionLost only
	At         time.Time
}

func (n Notification) String() string {
	switch n.Kind {
	case StateChanged:
		return fmt.Sprintf("%s -> %s", n.From, n.State)
	default:
		return fmt.Sprintf("%s: %v", n.Kind, n.Err)
	}
}
