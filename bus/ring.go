package bus

// ring is a fixed-capacity message buffer. Oldest entries are overwritten;
// history never grows unbounded.
type ring struct {
	buf   []*Message
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*Message, capacity)}
}

func (r *ring) push(m *Message) {
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// tail returns up to limit of the most recent entries, oldest first.
func (r *ring) tail(limit int) []*Message {
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Message, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
