package pipeline

// PreconditionError reports a run that was rejected before any dispatch
// began: missing input, unknown mode, or an unresolved backend credential.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}
