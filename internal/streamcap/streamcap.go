// Package streamcap implements the bounded, tail-preserving text buffer
// used to capture subprocess stdout/stderr (spec.md §4.12). Captured
// output is bounded in memory while keeping the most recent bytes,
// since completion markers and error detail tend to land near the end
// of a stream.
package streamcap

// DefaultPrefix is used when a Buffer is constructed via New without an
// explicit prefix.
const DefaultPrefix = "[...truncated in memory...]\n"

// Buffer accumulates chunks of text under a byte limit using the
// tail-preservation policy: once the limit is exceeded, the prefix is
// kept and only the most recent bytes of the logical concatenation are
// retained after it.
type Buffer struct {
	limit    int
	prefix   string
	content  string
	trimmed  bool
}

// New creates a Buffer bounded at limit bytes, using DefaultPrefix as
// the truncation marker.
func New(limit int) *Buffer {
	return NewWithPrefix(limit, DefaultPrefix)
}

// NewWithPrefix creates a Buffer bounded at limit bytes using a custom
// truncation prefix.
func NewWithPrefix(limit int, prefix string) *Buffer {
	return &Buffer{limit: limit, prefix: prefix}
}

// Write appends chunk, applying the tail-preservation policy described
// in spec.md §4.12:
//
//	if |current|+|chunk| <= L: concat
//	else if L <= |P|: truncated prefix only
//	else: P + last (L - |P|) chars of (current+chunk)
func (b *Buffer) Write(chunk string) {
	combined := b.content + chunk
	if len(combined) <= b.limit {
		b.content = combined
		return
	}
	b.trimmed = true
	if b.limit <= len(b.prefix) {
		b.content = b.prefix
		return
	}
	tailLen := b.limit - len(b.prefix)
	b.content = b.prefix + combined[len(combined)-tailLen:]
}

// String returns the buffer's current contents.
func (b *Buffer) String() string {
	return b.content
}

// Truncated reports whether any write has ever caused truncation.
func (b *Buffer) Truncated() bool {
	return b.trimmed
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return len(b.content)
}
