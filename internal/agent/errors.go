package agent

import (
	"errors"
	"fmt"
)

var ErrDetachNotPermitted = errors.New("server does not permit this host to detach")

// AwaitingApprovalError ends a cycle while an admin has not accepted the
// host's verification code yet.
type AwaitingApprovalError struct {
	Code uint32
}

func (e *AwaitingApprovalError) Error() string {
	return fmt.Sprintf("verification requested but not yet approved, code: %d", e.Code)
}
