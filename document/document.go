// Package document implements an in-memory editable text document with
// stable position markers and tagged provenance spans. It is the host-side
// stand-in for an editor buffer: the user keeps editing while streamed model
// output is inserted, and markers owned by the document keep every tracked
// position valid across both kinds of mutation.
package document

import (
	"fmt"
	"sort"
	"sync"
)

// Edit kinds reported to observers.
const (
	EditInsert = "insert"
	EditDelete = "delete"
)

// Edit describes one applied mutation.
type Edit struct {
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
	Version  int64  `json:"version"`
}

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the width of the range.
func (r Range) Len() int { return r.End - r.Start }

// Span is a tagged provenance range. Spans identify model-generated output
// so it can be found and stripped later; they shift and shrink with edits
// like markers do.
type Span struct {
	Range
	Tag string `json:"tag"`
}

// Document is an editable text buffer. All methods are safe for concurrent
// use; each mutation is atomic with respect to marker and span adjustment.
type Document struct {
	mu        sync.Mutex
	id        string
	buf       []byte
	version   int64
	markers   map[*Marker]struct{}
	spans     []Span
	observers []func(Edit)
}

// New creates an empty document with the given id.
func New(id string) *Document {
	return &Document{
		id:      id,
		markers: make(map[*Marker]struct{}),
	}
}

// NewWithText creates a document seeded with initial content.
func NewWithText(id, text string) *Document {
	d := New(id)
	d.buf = []byte(text)
	return d
}

// ID returns the document id.
func (d *Document) ID() string { return d.id }

// Len returns the document length in bytes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Version returns the number of mutations applied so far.
func (d *Document) Version() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Text returns the full document content.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}

// Slice returns the content of [start, end).
func (d *Document) Slice(start, end int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if start < 0 || end > len(d.buf) || start > end {
		return "", fmt.Errorf("range [%d,%d) out of bounds for length %d", start, end, len(d.buf))
	}
	return string(d.buf[start:end]), nil
}

// OnEdit registers an observer invoked after every applied mutation. The
// observer runs outside the document lock and must not assume offsets from
// the edit are still current.
func (d *Document) OnEdit(fn func(Edit)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// NewMarker creates a marker at the given offset.
func (d *Document) NewMarker(pos int, g Gravity) (*Marker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || pos > len(d.buf) {
		return nil, fmt.Errorf("marker position %d out of bounds for length %d", pos, len(d.buf))
	}
	m := &Marker{doc: d, offset: pos, gravity: g}
	d.markers[m] = struct{}{}
	return m, nil
}

// NewMarkerAt creates a marker at another marker's current offset, in one
// atomic step so no edit can slip between resolving and creating.
func (d *Document) NewMarkerAt(at *Marker, g Gravity) (*Marker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if at.released {
		return nil, fmt.Errorf("marker is released")
	}
	m := &Marker{doc: d, offset: at.offset, gravity: g}
	d.markers[m] = struct{}{}
	return m, nil
}

// Insert applies an untagged user edit at pos.
func (d *Document) Insert(pos int, text string) error {
	d.mu.Lock()
	ed, err := d.insertLocked(pos, text, "")
	obs := d.observers
	d.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, ed)
	return nil
}

// InsertTagged inserts text carrying a provenance tag at pos.
func (d *Document) InsertTagged(pos int, text, tag string) error {
	d.mu.Lock()
	ed, err := d.insertLocked(pos, text, tag)
	obs := d.observers
	d.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, ed)
	return nil
}

// InsertAt inserts tagged text at a marker's current offset, atomically with
// resolving the marker. Returns the interval the text now occupies.
func (d *Document) InsertAt(m *Marker, text, tag string) (Range, error) {
	d.mu.Lock()
	if m.released {
		d.mu.Unlock()
		return Range{}, fmt.Errorf("marker is released")
	}
	pos := m.offset
	ed, err := d.insertLocked(pos, text, tag)
	obs := d.observers
	d.mu.Unlock()
	if err != nil {
		return Range{}, err
	}
	notify(obs, ed)
	return Range{Start: pos, End: pos + len(text)}, nil
}

// Delete removes length bytes starting at pos.
func (d *Document) Delete(pos, length int) error {
	d.mu.Lock()
	ed, err := d.deleteLocked(pos, length)
	obs := d.observers
	d.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, ed)
	return nil
}

// DeleteBetween removes the interval between two markers, atomically with
// resolving both. Returns the removed interval (offsets as they were before
// the delete).
func (d *Document) DeleteBetween(from, to *Marker) (Range, error) {
	d.mu.Lock()
	if from.released || to.released {
		d.mu.Unlock()
		return Range{}, fmt.Errorf("marker is released")
	}
	start, end := from.offset, to.offset
	if start > end {
		start, end = end, start
	}
	ed, err := d.deleteLocked(start, end-start)
	obs := d.observers
	d.mu.Unlock()
	if err != nil {
		return Range{}, err
	}
	notify(obs, ed)
	return Range{Start: start, End: end}, nil
}

// Spans returns a copy of the current provenance spans, ordered by start.
func (d *Document) Spans() []Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Span, len(d.spans))
	copy(out, d.spans)
	return out
}

// SpansWithTag returns the spans carrying the given tag, ordered by start.
func (d *Document) SpansWithTag(tag string) []Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Span
	for _, s := range d.spans {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

// StripTag deletes every span carrying the tag together with its text, back
// to front so earlier offsets stay valid. Returns the number of bytes
// removed.
func (d *Document) StripTag(tag string) int {
	d.mu.Lock()
	var doomed []Range
	for _, s := range d.spans {
		if s.Tag == tag {
			doomed = append(doomed, s.Range)
		}
	}
	removed := 0
	var edits []Edit
	for i := len(doomed) - 1; i >= 0; i-- {
		r := doomed[i]
		ed, err := d.deleteLocked(r.Start, r.Len())
		if err != nil {
			continue
		}
		edits = append(edits, ed)
		removed += r.Len()
	}
	obs := d.observers
	d.mu.Unlock()
	for _, ed := range edits {
		notify(obs, ed)
	}
	return removed
}

func notify(obs []func(Edit), ed Edit) {
	if ed.Text == "" && ed.Length == 0 {
		// No-op edit: nothing was applied.
		return
	}
	for _, fn := range obs {
		fn(ed)
	}
}

func (d *Document) insertLocked(pos int, text, tag string) (Edit, error) {
	if pos < 0 || pos > len(d.buf) {
		return Edit{}, fmt.Errorf("insert position %d out of bounds for length %d", pos, len(d.buf))
	}
	n := len(text)
	if n == 0 {
		return Edit{Kind: EditInsert, Position: pos, Version: d.version}, nil
	}
	d.buf = append(d.buf[:pos], append([]byte(text), d.buf[pos:]...)...)
	for m := range d.markers {
		m.adjustInsert(pos, n)
	}
	d.adjustSpansInsert(pos, n, tag)
	d.version++
	return Edit{Kind: EditInsert, Position: pos, Text: text, Version: d.version}, nil
}

func (d *Document) deleteLocked(pos, length int) (Edit, error) {
	if length < 0 || pos < 0 || pos+length > len(d.buf) {
		return Edit{}, fmt.Errorf("delete range [%d,%d) out of bounds for length %d", pos, pos+length, len(d.buf))
	}
	if length == 0 {
		return Edit{Kind: EditDelete, Position: pos, Version: d.version}, nil
	}
	d.buf = append(d.buf[:pos], d.buf[pos+length:]...)
	for m := range d.markers {
		m.adjustDelete(pos, length)
	}
	d.adjustSpansDelete(pos, length)
	d.version++
	return Edit{Kind: EditDelete, Position: pos, Length: length, Version: d.version}, nil
}

// adjustSpansInsert shifts spans for an insert of n bytes at pos. A tagged
// insert inside or adjacent to a same-tag span grows that span; an untagged
// insert strictly inside a span splits it, since the new text is not part of
// the tagged output.
func (d *Document) adjustSpansInsert(pos, n int, tag string) {
	var out []Span
	for _, s := range d.spans {
		switch {
		case pos <= s.Start:
			s.Start += n
			s.End += n
			out = append(out, s)
		case pos >= s.End:
			out = append(out, s)
		case s.Tag == tag:
			s.End += n
			out = append(out, s)
		default:
			out = append(out,
				Span{Range: Range{Start: s.Start, End: pos}, Tag: s.Tag},
				Span{Range: Range{Start: pos + n, End: s.End + n}, Tag: s.Tag},
			)
		}
	}
	if tag != "" {
		out = append(out, Span{Range: Range{Start: pos, End: pos + n}, Tag: tag})
	}
	d.spans = normalizeSpans(out)
}

func (d *Document) adjustSpansDelete(pos, length int) {
	cutStart, cutEnd := pos, pos+length
	var out []Span
	for _, s := range d.spans {
		shift := 0
		if cutStart < s.Start {
			shift = min(cutEnd, s.Start) - cutStart
		}
		removed := max(0, min(s.End, cutEnd)-max(s.Start, cutStart))
		s.Start -= shift
		s.End -= shift + removed
		if s.End > s.Start {
			out = append(out, s)
		}
	}
	d.spans = normalizeSpans(out)
}

// normalizeSpans sorts by start and merges touching same-tag spans.
func normalizeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Tag == last.Tag && s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
