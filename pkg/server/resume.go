package server

// ResumeDecision is a ResumePolicy outcome.
type ResumeDecision int

const (
	// ResumeFresh opens a new session under the requested id. Message ids
	// continue from the client's lastMessageId.
	ResumeFresh ResumeDecision = iota

	// ResumeReject answers with an Error frame (SessionExpired) and closes
	// the socket.
	ResumeReject
)

// String returns the string representation of the decision.
func (d ResumeDecision) String() string {
	switch d {
	case ResumeFresh:
		return "fresh"
	case ResumeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ResumePolicy decides how to answer a Reconnect whose session is unknown
// or has outlived SessionTimeout.
type ResumePolicy interface {
	Resume(sessionID string, lastMessageID uint64) ResumeDecision
}

// ResumePolicyFunc adapts a function to ResumePolicy.
type ResumePolicyFunc func(sessionID string, lastMessageID uint64) ResumeDecision

// Resume calls f.
func (f ResumePolicyFunc) Resume(sessionID string, lastMessageID uint64) ResumeDecision {
	return f(sessionID, lastMessageID)
}

// Built-in policies.
var (
	// FreshSessionPolicy treats an expired resume as a new Connect with the
	// supplied session id. The client keeps its id and sees a connection,
	// but anything buffered for the old session is gone.
	FreshSessionPolicy ResumePolicy = ResumePolicyFunc(func(string, uint64) ResumeDecision {
		return ResumeFresh
	})

	// RejectPolicy refuses expired resumes.
	RejectPolicy ResumePolicy = ResumePolicyFunc(func(string, uint64) ResumeDecision {
		return ResumeReject
	})
)
