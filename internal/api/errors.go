package api

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// errorClass maps a sentinel to its HTTP status and error type.
type errorClass struct {
	err    error
	status int
	kind   string
}

var errorClasses = []errorClass{
	{domain.ErrInvalidReps, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidAccuracy, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidUser, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidPayload, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidFormat, http.StatusBadRequest, "invalid_request"},
	{domain.ErrNumericOverflow, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidJSON, http.StatusBadRequest, "invalid_request"},
	{domain.ErrBatchTooLarge, http.StatusBadRequest, "invalid_request"},
	{domain.ErrBelowThreshold, http.StatusBadRequest, "invalid_request"},
	{domain.ErrScoreNotIncreased, http.StatusBadRequest, "invalid_request"},

	{domain.ErrCooldownActive, http.StatusTooManyRequests, "cooldown"},

	{domain.ErrNotOwner, http.StatusForbidden, "forbidden"},
	{domain.ErrUnauthorizedChain, http.StatusForbidden, "forbidden"},
	{domain.ErrUnauthorizedSender, http.StatusForbidden, "forbidden"},
	{domain.ErrInvalidSignature, http.StatusForbidden, "forbidden"},

	{domain.ErrInsufficientFee, http.StatusPaymentRequired, "insufficient_fee"},
	{domain.ErrNotEnoughBalance, http.StatusPaymentRequired, "insufficient_fee"},

	{domain.ErrInvalidSession, http.StatusNotFound, "not_found"},
	{domain.ErrNoPendingReward, http.StatusNotFound, "not_found"},
	{domain.ErrDestinationNotFound, http.StatusNotFound, "not_found"},

	{domain.ErrAnalysisComplete, http.StatusConflict, "conflict"},
	{domain.ErrDistributionTooEarly, http.StatusConflict, "conflict"},
	{domain.ErrDistributionInProgress, http.StatusConflict, "conflict"},
	{domain.ErrNothingToDistribute, http.StatusConflict, "conflict"},
	{domain.ErrAutoDistributionOff, http.StatusConflict, "conflict"},

	{domain.ErrOracleBusy, http.StatusServiceUnavailable, "unavailable"},
	{domain.ErrOracleUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{domain.ErrBridgeInactive, http.StatusServiceUnavailable, "unavailable"},
}

func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.kind
		}
	}
	return http.StatusInternalServerError, "error"
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    kind,
		},
	})
}

// writeFailure maps err onto a status code. Cooldowns carry Retry-After.
func writeFailure(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	var cd *domain.CooldownError
	if errors.As(err, &cd) {
		secs := int(math.Ceil(cd.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeError(w, status, kind, err.Error())
}
