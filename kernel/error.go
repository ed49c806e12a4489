package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so that callers can compare them by identity; the Module
// field names the subsystem that raised the error and is printed by
// kfmt.Panic when the error turns out to be fatal.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target describes the same module and message as e. It
// allows errors.Is to match copies of a sentinel error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Module == e.Module && t.Message == e.Message
}
