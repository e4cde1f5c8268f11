package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Revert reasons of the contract pair
const (
	ReasonBadPrice        = "bad price"
	ReasonNotSeller       = "not seller"
	ReasonNotApproved     = "not approved"
	ReasonNotOwner        = "not owner"
	ReasonNotActive       = "not active"
	ReasonOnlyMarketplace = "only marketplace"
	ReasonOnlyOwner       = "only owner"
	ReasonZeroPrice       = "zero price"
	ReasonNoToken         = "nonexistent token"
	ReasonInsufficient    = "insufficient funds"
	ReasonUnknown         = "execution reverted"
)

var (
	// ErrRejected matches every ledger rejection
	ErrRejected = errors.New("ledger rejected call")

	ErrBadPrice    = errors.New(ReasonBadPrice)
	ErrNotSeller   = errors.New(ReasonNotSeller)
	ErrNotApproved = errors.New(ReasonNotApproved)
	ErrNotOwner    = errors.New(ReasonNotOwner)
	ErrNotActive   = errors.New(ReasonNotActive)
)

var reasonErrors = map[string]error{
	ReasonBadPrice:    ErrBadPrice,
	ReasonNotSeller:   ErrNotSeller,
	ReasonNotApproved: ErrNotApproved,
	ReasonNotOwner:    ErrNotOwner,
	ReasonNotActive:   ErrNotActive,
}

// RejectionError is a logic failure reported by the ledger.
// It is not transient and must not be retried.
type RejectionError struct {
	Method string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Method, ErrRejected, e.Reason)
}

// Is matches ErrRejected and the sentinel error of the reason
func (e *RejectionError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	reasonErr, ok := reasonErrors[e.Reason]
	return ok && reasonErr == target
}

// Reject builds a rejection error for a method call
func Reject(method, reason string) error {
	return &RejectionError{Method: method, Reason: reason}
}

// IsRejection reports whether err is a ledger rejection and returns its reason
func IsRejection(err error) (string, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason, true
	}
	return "", false
}

const revertMessagePrefix = "execution reverted"

// decodeRejection extracts the revert reason from an RPC error.
// Errors that are not reverts are returned as nil.
func decodeRejection(method string, err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			return Reject(method, reason)
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, revertMessagePrefix)
	if idx < 0 {
		return nil
	}

	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(revertMessagePrefix):], ":"))
	if reason == "" {
		reason = ReasonUnknown
	}
	return Reject(method, reason)
}

func revertReason(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return "", false
		}
		raw = b
	case []byte:
		raw = v
	default:
		return "", false
	}

	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
