package tap

import (
	"sort"
	"sync"
	"time"

	"lamportchat/clock"
)

// Orderer is the monitor side of the tap. It merges every observed
// timestamp into its own clock and holds events for a window so that
// events arriving slightly out of order are released sorted by
// (Time, NodeID). This is a display order, not a total order of the system.
type Orderer struct {
	window time.Duration
	now    func() time.Time
	clock  *clock.Clock

	mu      sync.Mutex
	pending []held
}

type held struct {
	ev Event
	at time.Time
}

func NewOrderer(window time.Duration) *Orderer {
	return &Orderer{window: window, now: time.Now, clock: clock.New()}
}

// Add buffers ev and returns the monitor's clock after the merge.
func (o *Orderer) Add(ev Event) uint64 {
	t := o.clock.Merge(ev.Time)
	o.mu.Lock()
	o.pending = append(o.pending, held{ev: ev, at: o.now()})
	o.mu.Unlock()
	return t
}

// Release returns the sorted prefix of buffered events that have all been
// held for at least the window.
func (o *Orderer) Release() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	sort.SliceStable(o.pending, func(i, j int) bool {
		a, b := o.pending[i].ev, o.pending[j].ev
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.NodeID < b.NodeID
	})
	now := o.now()
	n := 0
	for n < len(o.pending) && now.Sub(o.pending[n].at) >= o.window {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]Event, n)
	for i := range out {
		out[i] = o.pending[i].ev
	}
	o.pending = append(o.pending[:0], o.pending[n:]...)
	return out
}

// Pending returns the number of held events.
func (o *Orderer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Time returns the monitor's logical time.
func (o *Orderer) Time() uint64 {
	return o.clock.Time()
}
