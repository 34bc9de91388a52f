package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/veilpool/veilpool-node/gate"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/tree"
)

// Error is the API error envelope. Codes in the 40001-49999 range are the
// client's fault and map to 4xx statuses; codes 50001-59999 are the server's
// fault and map to 5xx. Codes are append-only: never renumber or reuse one.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

var (
	ErrResourceNotFound  = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody     = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedParam    = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrPoolNotFound      = Error{Code: 40004, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("pool not found")}
	ErrDuplicateDeposit  = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("commitment already deposited")}
	ErrPoolFull          = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("pool is full")}
	ErrWrongValue        = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("incorrect attached value")}
	ErrNotEligible       = Error{Code: 40008, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("address is not eligible to deposit")}
	ErrDepositsDisabled  = Error{Code: 40009, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("deposits are disabled")}
	ErrRateLimited       = Error{Code: 40010, HTTPstatus: http.StatusTooManyRequests, Err: fmt.Errorf("deposit limit reached")}
	ErrSpentNullifier    = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("nullifier already spent")}
	ErrUnknownRoot       = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown root")}
	ErrInvalidProof      = Error{Code: 40013, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid withdrawal proof")}
	ErrInvalidWithdrawal = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid withdrawal parameters")}
	ErrInvalidRange      = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid commitment range")}
	ErrBusy              = Error{Code: 40016, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("another operation is in flight")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrTransferFailed             = Error{Code: 50003, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("asset transfer failed")}
)

// Error satisfies the error interface.
func (e Error) Error() string {
	return e.Err.Error()
}

// MarshalJSON encodes the error envelope sent to the client.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{
		Error: e.Err.Error(),
		Code:  e.Code,
	})
}

// Write sends the error to the client with its mapped HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Warnw("marshal error response", "error", err.Error())
		http.Error(w, e.Err.Error(), e.HTTPstatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	if _, err := w.Write(data); err != nil {
		log.Warnw("failed to write http response", "error", err.Error())
	}
}

// WithErr returns a copy of the error with the underlying cause appended to
// the message.
func (e Error) WithErr(err error) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, err),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}

// fromDomainError maps ledger and gate sentinel errors onto the coded API
// taxonomy.
func fromDomainError(err error) Error {
	switch {
	case errors.Is(err, pool.ErrDuplicateCommitment):
		return ErrDuplicateDeposit
	case errors.Is(err, tree.ErrTreeFull):
		return ErrPoolFull
	case errors.Is(err, pool.ErrWrongValue), errors.Is(err, gate.ErrIncorrectValueSent):
		return ErrWrongValue.WithErr(err)
	case errors.Is(err, pool.ErrAlreadySpent):
		return ErrSpentNullifier
	case errors.Is(err, pool.ErrUnknownRoot):
		return ErrUnknownRoot
	case errors.Is(err, pool.ErrInvalidProof):
		return ErrInvalidProof
	case errors.Is(err, pool.ErrFeeExceedsDenomination),
		errors.Is(err, pool.ErrNonZeroRefund),
		errors.Is(err, pool.ErrNonZeroValue):
		return ErrInvalidWithdrawal.WithErr(err)
	case errors.Is(err, pool.ErrInvalidRange):
		return ErrInvalidRange.WithErr(err)
	case errors.Is(err, pool.ErrLedgerBusy), errors.Is(err, gate.ErrGateBusy):
		return ErrBusy
	case errors.Is(err, pool.ErrTransferFailed), errors.Is(err, gate.ErrFeeTransferFailed),
		errors.Is(err, gate.ErrValueTransferFailed):
		return ErrTransferFailed.WithErr(err)
	case errors.Is(err, gate.ErrUnknownPool):
		return ErrPoolNotFound
	case errors.Is(err, gate.ErrDepositsDisabled):
		return ErrDepositsDisabled
	case errors.Is(err, gate.ErrNotAllowedToDeposit),
		errors.Is(err, gate.ErrInsufficientGovernanceTokens):
		return ErrNotEligible.WithErr(err)
	case errors.Is(err, gate.ErrDailyDepositLimitReached):
		return ErrRateLimited
	default:
		return ErrGenericInternalServerError.WithErr(err)
	}
}
