package db

// Transient per-entity scratch state shared by the solver and the
// diagnostic reporter. Marks from a previous pass are invalidated lazily:
// every pass draws a fresh generation from the database, and a mark word
// whose generation does not match reads as zero. This keeps invalidation
// O(1) instead of requiring a clear sweep over tens of thousands of
// entities.
type markWord struct {
	gen  uint32
	bits uint32
}

func (m *markWord) load(gen uint32) uint32 {
	if m.gen != gen {
		return 0
	}
	return m.bits
}

func (m *markWord) store(gen, bits uint32) {
	m.gen = gen
	m.bits = bits
}

// NextGeneration starts a new solve-or-diagnose pass and returns its
// generation. All marks written under earlier generations become invisible.
func (d *Database) NextGeneration() uint32 {
	d.gen++
	return d.gen
}

// NextVisitGeneration starts a new traversal sweep. Visit generations guard
// "already visited" checks inside a pass (reverse-graph walks are cyclic)
// and are independent of the mark generation.
func (d *Database) NextVisitGeneration() uint32 {
	d.visitGen++
	return d.visitGen
}

// Mark reads n's scratch bits for the given pass generation.
func (n *Name) Mark(gen uint32) uint32 { return n.mark.load(gen) }

// SetMark overwrites n's scratch bits for the given pass generation.
func (n *Name) SetMark(gen, bits uint32) { n.mark.store(gen, bits) }

// OrMark merges bits into n's scratch state for the given pass generation.
func (n *Name) OrMark(gen, bits uint32) { n.mark.store(gen, n.mark.load(gen)|bits) }

// Mark reads p's scratch bits for the given pass generation.
func (p *Package) Mark(gen uint32) uint32 { return p.mark.load(gen) }

// OrMark merges bits into p's scratch state for the given pass generation.
func (p *Package) OrMark(gen, bits uint32) { p.mark.store(gen, p.mark.load(gen)|bits) }

// VisitOnce reports true the first time it is called with a given visit
// generation and false afterwards. Used to terminate cyclic reverse-graph
// walks and to deduplicate per-package reporting.
func (p *Package) VisitOnce(gen uint32) bool {
	if p.visit.load(gen) != 0 {
		return false
	}
	p.visit.store(gen, 1)
	return true
}
