package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingAdminCredential = errors.New("admin credential required")
	ErrMissingBuildCredential = errors.New("build credential required")

	ErrHostNotFound          = errors.New("host not found")
	ErrHostAlreadyRegistered = errors.New("host is already registered")
	ErrDetachNotAllowed      = errors.New("detaching is not allowed for this host")

	ErrAttemptNotFound             = errors.New("verification attempt not found")
	ErrPreRegisterNotFound         = errors.New("host has not been pre-registered")
	ErrTooManyVerificationAttempts = errors.New("too many pending verification attempts")
	ErrKeyPendingVerification      = errors.New("key already has a pending verification attempt")
	ErrKeyAlreadyInUse             = errors.New("key is already in use")
)

// HostsNotFoundError lists every host name of a batch update that is unknown
// to the registry. Names are sorted.
type HostsNotFoundError struct {
	Names []string
}

func (e *HostsNotFoundError) Error() string {
	return fmt.Sprintf("hosts not found: %s", strings.Join(e.Names, ", "))
}
