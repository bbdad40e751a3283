// Package arena provides bump allocation for entities whose lifetime is the
// lifetime of the database that owns them.
//
// An Arena hands out byte regions from fixed-size pages; there is no
// per-object free. A Pool[T] layers typed allocation on the same model:
// objects are placed in stable backing chunks, so the returned pointers stay
// valid until the whole pool is released. Everything allocated here is torn
// down at once when the database closes.
package arena

// DefaultPageSize is used when New is given a non-positive page size.
const DefaultPageSize = 64 * 1024

// Arena is a bump allocator over a list of pages.
//
// Allocation bumps a cursor within the current page and falls back to a
// fresh page when the aligned request does not fit in the remainder.
// Requests larger than one page get a dedicated oversized page.
type Arena struct {
	pageSize int
	pages    [][]byte
	cur      []byte // current page
	off      int    // bump cursor within cur
}

// New creates an Arena with the given page size.
func New(pageSize int) *Arena {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Arena{pageSize: pageSize}
}

// Alloc returns a region of size bytes whose offset within its page is a
// multiple of align. align must be a power of two.
//
// Allocation failure is unrecoverable: the process cannot continue without
// its package metadata, so exhaustion surfaces as a runtime panic rather
// than an error return.
func (a *Arena) Alloc(size, align int) []byte {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		panic("arena: invalid allocation request")
	}
	off := (a.off + align - 1) &^ (align - 1)
	if a.cur == nil || off+size > len(a.cur) {
		pageSize := a.pageSize
		if size > pageSize {
			pageSize = size
		}
		a.cur = make([]byte, pageSize)
		a.pages = append(a.pages, a.cur)
		off = 0
	}
	a.off = off + size
	return a.cur[off : off+size : off+size]
}

// AllocZeroed is Alloc with an explicit zeroing pass. Pages are never
// recycled, so fresh allocations are already zero; this exists to make the
// contract explicit at call sites that depend on it.
func (a *Arena) AllocZeroed(size, align int) []byte {
	b := a.Alloc(size, align)
	for i := range b {
		b[i] = 0
	}
	return b
}

// Pages reports how many pages the arena currently holds.
func (a *Arena) Pages() int { return len(a.pages) }

// Release drops every page at once. Regions handed out earlier must not be
// used afterwards.
func (a *Arena) Release() {
	a.pages = nil
	a.cur = nil
	a.off = 0
}
