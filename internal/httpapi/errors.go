package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/fees"
	"github.com/joelkehle/watchvault-pricing/internal/preferences"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
	"github.com/joelkehle/watchvault-pricing/internal/store"
)

const (
	CodeValidation    = "validation"
	CodeInvalidCost   = "invalid_cost"
	CodeNotFound      = "not_found"
	CodeUnprocessable = "unprocessable"
	CodeUpstream      = "upstream_failure"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation, CodeInvalidCost:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnprocessable:
		return http.StatusUnprocessableEntity
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusForCode(code)}
}

func validationError(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return newError(CodeValidation, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return newError(CodeValidation, "invalid json: "+err.Error())
}

// classify maps domain errors onto API errors.
func classify(err error) *Error {
	var ae *Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, pricing.ErrInvalidCost):
		return newError(CodeInvalidCost, err.Error())
	case errors.Is(err, preferences.ErrInvalid):
		return newError(CodeValidation, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fees.ErrUnknownMarketplace):
		return newError(CodeNotFound, err.Error())
	case errors.Is(err, pricing.ErrNoProfitableMarketplace),
		errors.Is(err, pricing.ErrMarketplaceUnprofitable),
		errors.Is(err, pricing.ErrNoComps),
		errors.Is(err, appraisal.ErrInvalidPricingConfig),
		errors.Is(err, appraisal.ErrInvalidChannelDecision),
		errors.Is(err, appraisal.ErrStageDependencyUnresolved):
		return newError(CodeUnprocessable, err.Error())
	}
	var se *appraisal.StageError
	if errors.As(err, &se) {
		return newError(CodeUpstream, err.Error())
	}
	return newError(CodeInternal, err.Error())
}
