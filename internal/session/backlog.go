package session

// backlog is a bounded FIFO of messages backed by a ring. When full, a push
// overwrites the oldest entry. It is not safe for concurrent use; Session
// guards it with its mutex.
type backlog struct {
	entries []Message
	head    int // index of the oldest entry
	count   int
}

func newBacklog(limit int) *backlog {
	return &backlog{entries: make([]Message, limit)}
}

func (b *backlog) limit() int { return len(b.entries) }
func (b *backlog) len() int   { return b.count }

// push appends m and returns the number of entries evicted (0 or 1).
func (b *backlog) push(m Message) int {
	if b.count < len(b.entries) {
		b.entries[(b.head+b.count)%len(b.entries)] = m
		b.count++
		return 0
	}
	b.entries[b.head] = m
	b.head = (b.head + 1) % len(b.entries)
	return 1
}

// items returns the entries oldest first. The result is never nil.
func (b *backlog) items() []Message {
	out := make([]Message, b.count)
	for i := range b.count {
		out[i] = b.entries[(b.head+i)%len(b.entries)]
	}
	return out
}

// resize changes the limit, keeping the newest entries. It returns the
// number of entries evicted.
func (b *backlog) resize(limit int) int {
	items := b.items()
	evicted := 0
	if len(items) > limit {
		evicted = len(items) - limit
		items = items[evicted:]
	}
	b.entries = make([]Message, limit)
	copy(b.entries, items)
	b.head = 0
	b.count = len(items)
	return evicted
}

func (b *backlog) clear() {
	clear(b.entries)
	b.head = 0
	b.count = 0
}
