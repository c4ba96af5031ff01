package sink

import "sort"

// Schema is the ordered union of all field names seen so far in a run. It
// grows monotonically: fields are appended in discovery order and never
// removed or reordered.
type Schema struct {
	fields []string
	seen   map[string]bool
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{
		seen: make(map[string]bool),
	}
}

// Merge adds unseen field names and returns how many were new. Record maps
// carry no field order, so fields that first appear together in the same
// page are appended in lexical order to keep output deterministic. Merging
// the same field set twice is a no-op.
func (s *Schema) Merge(fields []string) int {
	var added []string
	for _, f := range fields {
		if !s.seen[f] {
			s.seen[f] = true
			added = append(added, f)
		}
	}
	sort.Strings(added)
	s.fields = append(s.fields, added...)
	return len(added)
}

// Fields returns the field names in discovery order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Width returns the current field count.
func (s *Schema) Width() int {
	return len(s.fields)
}
