package arena

// Pool is a typed bump allocator. Objects are placed in fixed-size chunks;
// a chunk is never reallocated, so the pointers returned by New remain
// stable for the life of the pool. There is no per-object free.
type Pool[T any] struct {
	chunkLen int
	chunks   [][]T
	next     int // index into the last chunk
	count    int
}

// NewPool creates a Pool allocating objects in chunks of chunkLen.
func NewPool[T any](chunkLen int) *Pool[T] {
	if chunkLen <= 0 {
		chunkLen = 256
	}
	return &Pool[T]{chunkLen: chunkLen}
}

// New returns a pointer to a zero-valued T owned by the pool.
func (p *Pool[T]) New() *T {
	if len(p.chunks) == 0 || p.next == p.chunkLen {
		p.chunks = append(p.chunks, make([]T, p.chunkLen))
		p.next = 0
	}
	chunk := p.chunks[len(p.chunks)-1]
	obj := &chunk[p.next]
	p.next++
	p.count++
	return obj
}

// Len reports how many objects have been allocated.
func (p *Pool[T]) Len() int { return p.count }

// Release drops every chunk at once.
func (p *Pool[T]) Release() {
	p.chunks = nil
	p.next = 0
	p.count = 0
}
