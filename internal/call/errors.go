package call

import (
	"errors"
	"fmt"
)

// RejectionKind categorizes pre-flight failures so the API layer can map
// them to distinct responses.
type RejectionKind string

const (
	// RejectValidation covers malformed or missing call parameters.
	RejectValidation RejectionKind = "validation"
	// RejectPhoneNumber covers numbers that fail E.164 or ownership checks.
	RejectPhoneNumber RejectionKind = "phone_number"
	// RejectSubscription means the account has no active subscription.
	RejectSubscription RejectionKind = "subscription"
	// RejectQuota means the subscription has no minutes remaining or no
	// originating number configured.
	RejectQuota RejectionKind = "quota"
	// RejectAuth means the telephony provider rejected our credentials.
	// Callers should escalate rather than retry.
	RejectAuth RejectionKind = "auth"
	// RejectConflict means a session is already active for the number.
	RejectConflict RejectionKind = "conflict"
)

// Rejection is a typed pre-flight failure. No provider resource has been
// consumed when one is returned.
type Rejection struct {
	Kind    RejectionKind
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("call rejected (%s): %s", r.Kind, r.Message)
}

func reject(kind RejectionKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
