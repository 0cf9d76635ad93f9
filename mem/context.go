package mem

// Context says where memory handed out by a resource may be touched
// without extra synchronization. The zero value means "any context":
// the memory is ready as soon as Allocate returns. A stream-bound
// context ties readiness to the ordering of one Stream.
type Context struct {
	stream *Stream
}

// AnyContext returns the unrestricted access context.
func AnyContext() Context { return Context{} }

// StreamContext returns a context bound to s.
func StreamContext(s *Stream) Context { return Context{stream: s} }

// Any reports whether the context places no ordering restriction.
func (c Context) Any() bool { return c.stream == nil }

// Stream returns the bound stream, nil for the any-context.
func (c Context) Stream() *Stream { return c.stream }

func (c Context) Equal(o Context) bool { return c.stream == o.stream }

func (c Context) String() string {
	if c.stream == nil {
		return "any"
	}
	return "stream:" + c.stream.Name()
}
