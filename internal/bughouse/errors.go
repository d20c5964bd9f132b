package bughouse

import "fmt"

// Code is the error taxonomy reported to the originating connection.
type Code string

const (
	CodeIllegalMove       Code = "IllegalMove"
	CodeSeatConflict      Code = "SeatConflict"
	CodeMalformedProposal Code = "MalformedProposal"
	CodeUnknownSession    Code = "UnknownSession"
)

var (
	ErrIllegalMove        = errf("illegal move")
	ErrSeatConflict       = errf("seat already occupied")
	ErrAlreadySeated      = errf("connection already holds another seat")
	ErrMalformedProposal  = errf("malformed proposal")
	ErrUnknownSession     = errf("unknown session")
	ErrInvalidSessionName = errf("invalid session name")
)

// Reject reasons double as message catalog keys.
const (
	ReasonSeatUnclaimed = "seat_unclaimed"
	ReasonWrongBoard    = "wrong_board"
	ReasonWrongTurn     = "wrong_turn"
	ReasonBoardOver     = "board_over"
	ReasonMatchOver     = "match_over"
	ReasonRules         = "rules_rejected"
	ReasonSeatTaken     = "seat_taken"
	ReasonAlreadySeated = "already_seated"
	ReasonBadSeat       = "bad_seat"
	ReasonBadBoard      = "bad_board"
	ReasonBadMove       = "bad_move"
	ReasonBadName       = "bad_name"
	ReasonBadEvent      = "bad_event"
)

// Reject is a refused request. It never mutates session state and is only
// reported to the connection that caused it.
type Reject struct {
	Code   Code
	Reason string
	Err    error
}

func (r *Reject) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%s): %v", r.Code, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s (%s)", r.Code, r.Reason)
}

func (r *Reject) Unwrap() error { return r.Err }

func reject(code Code, reason string, err error) *Reject {
	return &Reject{Code: code, Reason: reason, Err: err}
}

// IllegalMove builds the reject used for every refused move proposal.
func IllegalMove(reason string, cause error) *Reject {
	if cause == nil {
		cause = ErrIllegalMove
	} else {
		cause = fmt.Errorf("%w: %v", ErrIllegalMove, cause)
	}
	return reject(CodeIllegalMove, reason, cause)
}

// Malformed builds the reject for payloads that cannot be interpreted.
func Malformed(reason string) *Reject {
	return reject(CodeMalformedProposal, reason, ErrMalformedProposal)
}

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
