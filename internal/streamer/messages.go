package streamer

import "sync"

// Messages is a subscriber registry for application messages.
type Messages struct {
	mu   sync.Mutex
	next int
	subs map[int]func(string)
}

// Subscribe implements domain.MessageChannel.
func (m *Messages) Subscribe(fn func(msg string)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[int]func(string))
	}
	id := m.next
	m.next++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Publish delivers msg to every current subscriber.
func (m *Messages) Publish(msg string) {
	m.mu.Lock()
	fns := make([]func(string), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
