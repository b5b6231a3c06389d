package device

import (
	"sync"
	"time"
)

// subscriptionBuffer is the per-subscriber channel capacity. One slot per
// category is enough to hold a full flush without dropping.
const subscriptionBuffer = 8

// Signal tells a subscriber that a category changed. It carries no data;
// subscribers pull the current values from the cache.
type Signal struct {
	Category Category  `json:"category"`
	At       time.Time `json:"at"`
}

// Notifier fans out change signals to subscribers.
//
// Notify marks a category as changed. Flush delivers one signal per pending
// category to every matching subscriber and clears the pending set, so any
// number of merges between two flushes produce at most one signal per
// category. Delivery never blocks: a subscriber whose buffer is full misses
// the signal.
type Notifier struct {
	mu      sync.Mutex
	pending []Category
	subs    map[*Subscription]struct{}
	now     func() time.Time
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscription is a registered listener. Read signals from C and call Close
// when done.
type Subscription struct {
	n      *Notifier
	ch     chan Signal
	filter map[Category]bool
	once   sync.Once
}

// C returns the signal channel. It is closed by Close.
func (s *Subscription) C() <-chan Signal {
	return s.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s)
		close(s.ch)
		s.n.mu.Unlock()
	})
}

// Matches reports whether the subscription wants signals for category.
// An empty filter matches everything.
func (s *Subscription) Matches(category Category) bool {
	return len(s.filter) == 0 || s.filter[category]
}

// Subscribe registers a subscriber for the given categories.
// With no categories the subscriber receives every signal.
func (n *Notifier) Subscribe(filter ...Category) *Subscription {
	sub := &Subscription{
		n:  n,
		ch: make(chan Signal, subscriptionBuffer),
	}
	if len(filter) > 0 {
		sub.filter = make(map[Category]bool, len(filter))
		for _, c := range filter {
			sub.filter[c] = true
		}
	}

	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	return sub
}

// Notify marks category as changed. Nothing is delivered until Flush.
func (n *Notifier) Notify(category Category) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.pending {
		if c == category {
			return
		}
	}
	n.pending = append(n.pending, category)
}

// Flush delivers pending signals and returns how many categories were flushed.
func (n *Notifier) Flush() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) == 0 {
		return 0
	}

	at := n.now()
	for _, category := range n.pending {
		sig := Signal{Category: category, At: at}
		for sub := range n.subs {
			if !sub.Matches(category) {
				continue
			}
			select {
			case sub.ch <- sig:
			default:
			}
		}
	}

	flushed := len(n.pending)
	n.pending = n.pending[:0]
	return flushed
}

// SubscriberCount returns the number of registered subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
