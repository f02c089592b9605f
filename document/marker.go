package document

// Gravity controls how a marker behaves when text is inserted exactly at its
// offset. A left-gravity marker stays put, so it keeps pointing at the start
// of a block that grows after it. A right-gravity marker advances, so it
// tracks the end of a growing block. Both kinds shift on edits strictly
// before them.
type Gravity int

const (
	GravityLeft Gravity = iota
	GravityRight
)

// Marker is a document-owned position that stays valid as surrounding
// content is edited. Offsets captured from a marker are stale the moment the
// document lock is released; operations that must land at a marker go
// through Document.InsertAt and Document.DeleteBetween instead.
type Marker struct {
	doc      *Document
	offset   int
	gravity  Gravity
	released bool
}

// Offset resolves the marker against the document's current state.
func (m *Marker) Offset() int {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return m.offset
}

// Release detaches the marker so the document stops updating it. Using a
// released marker with InsertAt or DeleteBetween returns an error.
func (m *Marker) Release() {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	m.released = true
	delete(m.doc.markers, m)
}

func (m *Marker) adjustInsert(pos, n int) {
	switch {
	case m.offset > pos:
		m.offset += n
	case m.offset == pos && m.gravity == GravityRight:
		m.offset += n
	}
}

func (m *Marker) adjustDelete(pos, n int) {
	switch {
	case m.offset >= pos+n:
		m.offset -= n
	case m.offset > pos:
		m.offset = pos
	}
}
