package dap

import (
	"fmt"

	"github.com/pkg/errors"
)

// Blame classifies who a failed request gets blamed on. User and Internal
// errors surface in the client UI; Nobody errors fail quietly.
type Blame int

const (
	BlameInternal Blame = iota
	BlameUser
	BlameNobody
)

type blamedError struct {
	blame Blame
	inner error
}

func (e *blamedError) Error() string { return e.inner.Error() }
func (e *blamedError) Unwrap() error { return e.inner }

// BlameUserError marks err as caused by user input or environment.
func BlameUserError(err error) error {
	if err == nil {
		return nil
	}
	return &blamedError{blame: BlameUser, inner: err}
}

// BlameUserErrorf is BlameUserError over errors.Errorf.
func BlameUserErrorf(format string, args ...any) error {
	return &blamedError{blame: BlameUser, inner: errors.Errorf(format, args...)}
}

// BlameNobodyError marks err as not worth a UI toast.
func BlameNobodyError(err error) error {
	if err == nil {
		return nil
	}
	return &blamedError{blame: BlameNobody, inner: err}
}

// ClassifyError returns the user-facing message and whether the client
// should surface it. Unmarked errors are internal.
func ClassifyError(err error) (message string, showUser bool) {
	var blamed *blamedError
	if errors.As(err, &blamed) {
		switch blamed.blame {
		case BlameUser:
			return blamed.inner.Error(), true
		case BlameNobody:
			return blamed.inner.Error(), false
		}
	}
	return fmt.Sprintf("Internal debugger error: %s", err), true
}
