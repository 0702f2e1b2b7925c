package feed

import "sync"

// subscription is the accumulated set of products and channels. It only
// grows, and it is what gets replayed on every new session.
type subscription struct {
	mu sync.Mutex

	products []string
	channels []string

	productSet map[string]struct{}
	channelSet map[string]struct{}
}

func newSubscription(channels ...string) *subscription {
	s := &subscription{
		productSet: make(map[string]struct{}),
		channelSet: make(map[string]struct{}),
	}
	s.channels = appendNew(s.channels, s.channelSet, channels)
	return s
}

// merge unions products and channels into the state, keeping first-seen
// order, and calls emit with a command carrying the complete lists. emit
// runs under the lock so commands are queued in the order the state grew.
func (s *subscription) merge(products, channels []string, emit func(Command)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = appendNew(s.products, s.productSet, products)
	s.channels = appendNew(s.channels, s.channelSet, channels)

	emit(Command{
		Type:       TypeSubscribe,
		ProductIDs: clone(s.products),
		Channels:   clone(s.channels),
	})
}

// snapshot returns copies of the current lists.
func (s *subscription) snapshot() (products, channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.products), clone(s.channels)
}

// hasProducts reports whether anything would be replayed.
func (s *subscription) hasProducts() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products) > 0
}

// appendNew appends the items not yet in set.
func appendNew(list []string, set map[string]struct{}, items []string) []string {
	for _, item := range items {
		if _, ok := set[item]; ok {
			continue
		}
		set[item] = struct{}{}
		list = append(list, item)
	}
	return list
}

func clone(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
