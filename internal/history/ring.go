package history

// Ring keeps the most recent values up to a fixed capacity. It is not safe
// for concurrent use.
type Ring struct {
	buf  []float64
	next int
	full bool
}

func NewRing(size int) *Ring {
	return &Ring{buf: make([]float64, size)}
}

// Push appends v, overwriting the oldest value once the ring is full.
func (r *Ring) Push(v float64) {
	if len(r.buf) == 0 {
		return
	}

	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *Ring) Cap() int { return len(r.buf) }

// Values returns a copy ordered oldest to newest.
func (r *Ring) Values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}

	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Last returns the newest value.
func (r *Ring) Last() (float64, bool) {
	if r.Len() == 0 {
		return 0, false
	}

	i := r.next - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i], true
}
