package local

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/riderbot/go-rider/internal/log"
)

// ReaderSource turns line-based teleop input (stdin over ssh, a serial
// console) into controller events, so local arbitration works without
// a gamepad attached. One command per line:
//
//	w/s/a/d  drive forward/backward/left/right
//	x        stop
//	+/-      speed scale up/down
//	u/j      height up/down
//	r        toggle roll balance
//	p        toggle performance mode
//	c        toggle camera
//	e        emergency stop
type ReaderSource struct {
	r      io.Reader
	events chan Event
}

// Axis magnitude for the drive keys. Fine control needs a real
// controller; the keyboard gives a moderate fixed rate.
const keyAxisRate = 60

// NewReaderSource creates a ReaderSource over r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, events: make(chan Event, 16)}
}

// Events implements Source.
func (s *ReaderSource) Events() <-chan Event {
	return s.events
}

// Run reads lines until EOF or cancellation, then closes the event
// channel so the pump sees a controller disconnect.
func (s *ReaderSource) Run(ctx context.Context) {
	defer close(s.events)

	s.emit(ctx, Event{Kind: EventConnected})

	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		key := strings.TrimSpace(scanner.Text())
		ev, ok := keyEvent(key)
		if !ok {
			if key != "" {
				log.Debug("unmapped teleop key", "key", key)
			}
			continue
		}
		if !s.emit(ctx, ev) {
			return
		}
	}
}

func (s *ReaderSource) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func keyEvent(key string) (Event, bool) {
	switch key {
	case "w":
		return Event{Kind: EventAxis, Y: keyAxisRate}, true
	case "s":
		return Event{Kind: EventAxis, Y: -keyAxisRate}, true
	case "a":
		return Event{Kind: EventAxis, X: -keyAxisRate}, true
	case "d":
		return Event{Kind: EventAxis, X: keyAxisRate}, true
	case "x":
		return Event{Kind: EventAxis}, true
	case "+":
		return Event{Kind: EventSpeedUp}, true
	case "-":
		return Event{Kind: EventSpeedDown}, true
	case "u":
		return Event{Kind: EventHeightUp}, true
	case "j":
		return Event{Kind: EventHeightDown}, true
	case "r":
		return Event{Kind: EventToggleRollBalance}, true
	case "p":
		return Event{Kind: EventTogglePerformance}, true
	case "c":
		return Event{Kind: EventToggleCamera}, true
	case "e":
		return Event{Kind: EventEmergencyStop}, true
	default:
		return Event{}, false
	}
}
