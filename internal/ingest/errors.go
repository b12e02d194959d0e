package ingest

import "fmt"

// InputErrorCode classifies a rejected upload.
type InputErrorCode string

const (
	CodeUnsupportedType InputErrorCode = "unsupported_type"
	CodeTooLarge        InputErrorCode = "too_large"
	CodeTooShort        InputErrorCode = "too_short"
)

// InputError reports an upload rejected before any embedding call.
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
