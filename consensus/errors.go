package consensus

import "fmt"

// ErrorCode tags the class of a consensus-rule failure so callers (mempool
// admission, P2P dispatch, block validation) can decide disconnect/ban
// policy without string-matching error text.
type ErrorCode string

const (
	ErrTooLargeScript   ErrorCode = "TOO_LARGE_SCRIPT"
	ErrTooManyInOut     ErrorCode = "TOO_MANY_IN_OUT"
	ErrParse            ErrorCode = "PARSE"
	ErrMissingUtxo      ErrorCode = "MISSING_UTXO"
	ErrDuplicateInput   ErrorCode = "DUPLICATE_INPUT"
	ErrDuplicateOutput  ErrorCode = "DUPLICATE_OUTPUT"
	ErrValueNotConserved ErrorCode = "VALUE_NOT_CONSERVED"
	ErrValueOverflow    ErrorCode = "VALUE_OVERFLOW"
	ErrCoinbaseHasInputs ErrorCode = "COINBASE_HAS_INPUTS"
	ErrCoinbaseExceedsSubsidy ErrorCode = "COINBASE_EXCEEDS_SUBSIDY"
	ErrEmptyBlock       ErrorCode = "EMPTY_BLOCK"
	ErrMerkleMismatch   ErrorCode = "MERKLE_MISMATCH"
	ErrPowInvalid       ErrorCode = "POW_INVALID"
	ErrInvalidBits      ErrorCode = "INVALID_BITS"
	ErrUnknownPrev      ErrorCode = "UNKNOWN_PREV"
	ErrUnexpectedBits   ErrorCode = "UNEXPECTED_BITS"
	ErrTimeTooOld       ErrorCode = "TIME_TOO_OLD"
	ErrTimeInFuture     ErrorCode = "TIME_IN_FUTURE"

	// Mempool admission codes (spec.md §4.6, C7).
	ErrDuplicateTx ErrorCode = "DUPLICATE_TX"
	ErrDoubleSpend ErrorCode = "DOUBLE_SPEND"
	ErrLowFee      ErrorCode = "LOW_FEE"
	ErrFull        ErrorCode = "FULL"
	ErrBytesLimit  ErrorCode = "BYTES_LIMIT"
)

// ConsensusError is the concrete error type every exported consensus
// function returns on a rule violation. Never wrap-and-swallow it;
// propagate it outward so P2P dispatch can map Code to a ban decision.
type ConsensusError struct {
	Code ErrorCode
	Msg  string
}

func (e *ConsensusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(code ErrorCode, msg string) error {
	return &ConsensusError{Code: code, Msg: msg}
}

// NewError builds a ConsensusError for packages outside consensus (chain,
// mempool, p2p dispatch) that need to surface the same typed error codes.
func NewError(code ErrorCode, msg string) error {
	return newErr(code, msg)
}

// CodeOf extracts the ErrorCode from err, if err is a *ConsensusError.
func CodeOf(err error) (ErrorCode, bool) {
	ce, ok := err.(*ConsensusError)
	if !ok || ce == nil {
		return "", false
	}
	return ce.Code, true
}
