package engine

// session is the process-wide singleton with states {closed, open(id)}
// from spec section 3. It is a value type embedded in Engine so there is
// exactly one instance, mutated only by the bulk engine's OpenSession/
// CloseSession handlers and cleared wholesale on reset.
type session struct {
	open bool
	id   uint32
}

// IsOpen reports whether a session is currently open, and its id.
func (e *Engine) IsOpen() (uint32, bool) {
	return e.session.id, e.session.open
}
