package domain

import "errors"

// ErrorKind classifies a rejected operation so callers can tell "fix your
// input" apart from "you may never do this" or "try again later".
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindState
	KindAuthorization
	KindResource
	KindNotFound
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified sentinel error. Components wrap these with
// fmt.Errorf("pkg: op: %w", ...) so errors.Is and KindOf keep working.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when err is unclassified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Validation errors.
var (
	ErrZeroAmount       = newError(KindValidation, "amount must be greater than zero")
	ErrZeroAddress      = newError(KindValidation, "zero address")
	ErrInvalidPrice     = newError(KindValidation, "price must be greater than zero")
	ErrPriceUnchanged   = newError(KindValidation, "price unchanged")
	ErrInvalidInterval  = newError(KindValidation, "invalid price update interval")
	ErrInvalidName      = newError(KindValidation, "name and symbol are required")
	ErrInvalidOption    = newError(KindValidation, "option index out of range")
	ErrInvalidOptions   = newError(KindValidation, "predictions need between 2 and 10 non-empty options")
	ErrInvalidTitle     = newError(KindValidation, "title is required")
	ErrInvalidExpiry    = newError(KindValidation, "expiry must be in the future")
	ErrFeeTooHigh       = newError(KindValidation, "fee percent too high")
	ErrInvalidThreshold = newError(KindValidation, "invalid report threshold")
	ErrCooldownTooShort = newError(KindValidation, "cooldown below minimum")
	ErrOutOfRange       = newError(KindValidation, "offset out of range")
	ErrAmountTooSmall   = newError(KindValidation, "amount converts to zero units")
	ErrSettingUnchanged = newError(KindValidation, "setting unchanged")
	ErrOverflow         = newError(KindValidation, "arithmetic overflow")
)

// State errors.
var (
	ErrWrongStatus        = newError(KindState, "prediction is not in the required status")
	ErrPriceCooldown      = newError(KindState, "price update cooldown has not elapsed")
	ErrAlreadyRegistered  = newError(KindState, "creator already has a ledger")
	ErrAlreadyBanned      = newError(KindState, "creator already banned")
	ErrNotBanned          = newError(KindState, "creator not banned")
	ErrAlreadyReported    = newError(KindState, "already reported")
	ErrReportWindowClosed = newError(KindState, "report window closed")
	ErrNotExpired         = newError(KindState, "prediction has not expired")
	ErrAlreadyClaimed     = newError(KindState, "already claimed")
	ErrNoReward           = newError(KindState, "no reward")
	ErrNoRefund           = newError(KindState, "no rewards to refund")
	ErrNoFees             = newError(KindState, "no fees to withdraw")
)

// Authorization errors.
var (
	ErrUnauthenticated      = newError(KindAuthorization, "unauthenticated")
	ErrNotAdmin             = newError(KindAuthorization, "caller is not the administrator")
	ErrNotOwner             = newError(KindAuthorization, "caller is not the ledger owner")
	ErrNotCreator           = newError(KindAuthorization, "caller is not the prediction creator")
	ErrUnauthorizedOperator = newError(KindAuthorization, "unauthorized operator")
	ErrCreatorBanned        = newError(KindAuthorization, "creator is banned")
	ErrNotAdjudicator       = newError(KindAuthorization, "caller is not a fraud adjudicator")
	ErrNotParticipant       = newError(KindAuthorization, "caller has no stake in this prediction")
)

// Resource errors.
var (
	ErrInsufficientBalance   = newError(KindResource, "insufficient balance")
	ErrInsufficientAllowance = newError(KindResource, "insufficient allowance")
	ErrInsufficientLiquidity = newError(KindResource, "insufficient contract balance")
)

// Not-found errors.
var (
	ErrNotFound          = newError(KindNotFound, "not found")
	ErrUnknownCreator    = newError(KindNotFound, "unknown creator")
	ErrUnknownLedger     = newError(KindNotFound, "unknown ledger")
	ErrUnknownPrediction = newError(KindNotFound, "unknown prediction")
)

// Infrastructure errors.
var (
	ErrLockHeld = errors.New("lock already held")
	ErrLockLost = errors.New("lock lost")
)
