// Package runtimelog streams the embedded runtime's own diagnostic output
// (guest stdout/stderr, helper stderr) to live subscribers and keeps a short
// history per runtime instance.
package runtimelog

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// historySize is the number of most recent lines kept per runtime.
	historySize = 256
)

// Line is one line of runtime output.
type Line struct {
	Seq    int       `json:"seq"`
	Source string    `json:"source"`
	Text   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// Broker fans runtime output out to subscribers, keyed by runtime ID.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a runtime stopped) receive a closed channel and can
// still read the history. A runtime is started a handful of times per
// process at most.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs    map[int]chan Line
	nextID  int
	nextSeq int
	history []Line
	closed  bool
}

// NewBroker creates a new broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

func (b *Broker) topicLocked(runtimeID string) *topic {
	t, ok := b.topics[runtimeID]
	if !ok {
		t = &topic{subs: make(map[int]chan Line)}
		b.topics[runtimeID] = t
	}
	return t
}

// Has reports whether the runtime has published output or been closed.
// It never creates a topic.
func (b *Broker) Has(runtimeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[runtimeID]
	return ok
}

// Subscribe returns a channel that receives output lines of the given
// runtime and an unsubscribe function. If the runtime has already stopped
// (Close was called), the returned channel is immediately closed. Callers
// subscribe only to runtime IDs issued by the bridge, since the topic stays
// open until the bridge closes it.
func (b *Broker) Subscribe(runtimeID string) (<-chan Line, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(runtimeID)

	ch := make(chan Line, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish records a line and sends it to all subscribers of the runtime.
// Lines are dropped for subscribers whose buffers are full. Publishing to a
// closed runtime is a no-op.
func (b *Broker) Publish(runtimeID, source, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(runtimeID)
	if t.closed {
		return
	}

	t.nextSeq++
	line := Line{Seq: t.nextSeq, Source: source, Text: text, Time: time.Now().UTC()}

	t.history = append(t.history, line)
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Never block the runtime worker on a slow reader.
		}
	}
}

// History returns the most recent lines of the runtime, oldest first.
func (b *Broker) History(runtimeID string) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runtimeID]
	if !ok {
		return nil
	}
	return append([]Line(nil), t.history...)
}

// Close signals that the runtime produces no more output. All subscriber
// channels are closed and future Subscribe calls return a closed channel.
func (b *Broker) Close(runtimeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(runtimeID)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
