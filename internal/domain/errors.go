package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJobMetadata     = errors.New("invalid job metadata")
	ErrMissingPhoneNumber     = errors.New("phone number not provided in metadata")
	ErrParticipantJoinTimeout = errors.New("participant did not join in time")
	ErrTransferUnavailable    = errors.New("cannot transfer call - no transfer number configured")
)

// DialOutcome classifies the result of an outbound dial.
type DialOutcome int

const (
	DialAnswered DialOutcome = iota
	DialBusy
	DialNoAnswer
	DialGatewayError
)

func (o DialOutcome) String() string {
	switch o {
	case DialAnswered:
		return "answered"
	case DialBusy:
		return "busy"
	case DialNoAnswer:
		return "no_answer"
	case DialGatewayError:
		return "gateway_error"
	default:
		return fmt.Sprintf("dial_outcome(%d)", int(o))
	}
}

// DialError reports a dial that did not end with the callee answering.
type DialError struct {
	Outcome DialOutcome
	Code    int
	Reason  string
	Err     error
}

func (e *DialError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("dial failed (%s): SIP %d %s", e.Outcome, e.Code, e.Reason)
	}
	return fmt.Sprintf("dial failed (%s): %s", e.Outcome, e.Reason)
}

func (e *DialError) Unwrap() error { return e.Err }

// OutcomeOf maps a dial result to its outcome. nil means the call was answered.
func OutcomeOf(err error) DialOutcome {
	if err == nil {
		return DialAnswered
	}
	var de *DialError
	if errors.As(err, &de) {
		return de.Outcome
	}
	return DialGatewayError
}

// ClassifySIPStatus maps a final SIP response code to a dial outcome.
func ClassifySIPStatus(code int) DialOutcome {
	switch code {
	case 200:
		return DialAnswered
	case 486, 600:
		return DialBusy
	case 408, 480, 487:
		return DialNoAnswer
	default:
		return DialGatewayError
	}
}

// TransferError reports a rejected transfer request. The call stays up.
type TransferError struct {
	Target string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer to %s failed: %v", e.Target, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// BootstrapError reports a conversational pipeline that could not start.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("session bootstrap failed: %v", e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// UnexpectedError wraps failures that do not fit any other category.
type UnexpectedError struct {
	Stage string
	Err   error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error during %s: %v", e.Stage, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }
