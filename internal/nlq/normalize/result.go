package normalize

// Result is the outcome of coercing free-form model text: either a parsed value or the
// raw text that could not be interpreted, never both.
type Result[T any] struct {
	value T
	raw   string
	err   error
	ok    bool
}

// Parsed wraps a successfully interpreted value.
func Parsed[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Unparseable keeps the raw text and the reason it was rejected.
func Unparseable[T any](raw string, reason error) Result[T] {
	return Result[T]{raw: raw, err: reason}
}

// Value returns the parsed value and whether parsing succeeded.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

func (r Result[T]) OK() bool { return r.ok }

// Raw returns the rejected text of an Unparseable result.
func (r Result[T]) Raw() string { return r.raw }

// Err returns the rejection reason of an Unparseable result.
func (r Result[T]) Err() error { return r.err }
