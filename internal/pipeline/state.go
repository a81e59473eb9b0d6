package pipeline

import "github.com/jenojiji/pion-examples/qrscan/internal/scan"

// Snapshot is an immutable view of the pipeline's observable state.
// Result and Err are each set at most once.
type Snapshot struct {
	State     scan.State `json:"state"`
	Result    string     `json:"result,omitempty"`
	Err       string     `json:"error,omitempty"`
	Profile   string     `json:"profile,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// Decoded reports whether a code has been published.
func (s Snapshot) Decoded() bool { return s.Result != "" }

// Failed reports whether a fatal error was recorded.
func (s Snapshot) Failed() bool { return s.Err != "" }

// state owns the snapshot and its subscribers. Callers hold Pipeline.mu.
type state struct {
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	final   bool
}

func (st *state) update(fn func(*Snapshot)) {
	next := st.snap
	fn(&next)
	if next == st.snap {
		return
	}
	st.snap = next
	for _, ch := range st.subs {
		offer(ch, next)
	}
}

// offer replaces any unread snapshot so subscribers see the latest one
// without ever blocking the pipeline.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}

func (st *state) subscribe() (<-chan Snapshot, int) {
	ch := make(chan Snapshot, 1)
	ch <- st.snap
	if st.final {
		close(ch)
		return ch, -1
	}
	if st.subs == nil {
		st.subs = make(map[int]chan Snapshot)
	}
	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch
	return ch, id
}

func (st *state) unsubscribe(id int) {
	if ch, ok := st.subs[id]; ok {
		delete(st.subs, id)
		close(ch)
	}
}

func (st *state) finish() {
	st.final = true
	for id := range st.subs {
		st.unsubscribe(id)
	}
}
