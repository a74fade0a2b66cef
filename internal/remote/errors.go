package remote

import (
	"errors"
	"fmt"
)

// Remote error codes. Only the codes in fatalCodes end an entry without retry.
const (
	CodeAccessToResultDenied    = "AccessToFeedProcessingResultDenied"
	CodeCanceled                = "FeedCanceled"
	CodeResultNoLongerAvailable = "FeedProcessingResultNoLongerAvailable"
	CodeInputDataError          = "InputDataError"
	CodeInvalidWorkType         = "InvalidFeedType"
	CodeInvalidRequest          = "InvalidRequest"
	CodeContentMD5Missing       = "ContentMD5Missing"
	CodeContentMD5DoesNotMatch  = "ContentMD5DoesNotMatch"
	CodeResultNotReady          = "FeedProcessingResultNotReady"
	CodeInvalidSubmissionID     = "InvalidFeedSubmissionId"
)

var fatalCodes = map[string]bool{
	CodeAccessToResultDenied:    true,
	CodeCanceled:                true,
	CodeResultNoLongerAvailable: true,
	CodeInputDataError:          true,
	CodeInvalidWorkType:         true,
	CodeInvalidRequest:          true,
}

// Error is an error reported by the remote service.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote error %s (http %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// Fatal reports whether the code ends the entry without retry. Unknown codes
// are retryable.
func (e *Error) Fatal() bool {
	return fatalCodes[e.Code]
}

// IsFatal reports whether err wraps a remote error with a fatal code.
// Transport failures and other errors are never fatal.
func IsFatal(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return false
}

// ErrorCode returns the remote error code wrapped in err, or "".
func ErrorCode(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
