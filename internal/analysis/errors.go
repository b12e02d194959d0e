package analysis

import "fmt"

// InputErrorCode classifies a rejected submission.
type InputErrorCode string

const (
	CodeUnsupportedType InputErrorCode = "unsupported_type"
	CodeTooLarge        InputErrorCode = "too_large"
	CodeEmpty           InputErrorCode = "empty"
)

// InputError reports a submission rejected before any model call.
type InputError struct {
	Code InputErrorCode
	Msg  string
	Err  error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InputError) Unwrap() error { return e.Err }
