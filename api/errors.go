package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/posting"
)

// statusFor maps domain errors onto HTTP statuses:
//
//	400 validation, malformed input
//	403 immutable (system-generated) entry
//	404 unknown entry or entity
//	409 duplicate, already posted, nothing to reverse, wrong document state
//	423 entity failed reconciliation; rebuild before writing
//	503 entity lock timeout; retry
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, document.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrImmutableEntry):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, posting.ErrAlreadyPosted),
		errors.Is(err, posting.ErrNothingToReverse),
		errors.Is(err, document.ErrNotDraft),
		errors.Is(err, document.ErrNotFinalized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrReconciliationMismatch):
		return http.StatusLocked
	case errors.Is(err, ledger.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError writes err with the status statusFor picks. Internal
// errors are logged and their details withheld.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
		writeError(w, status, message, nil)
		return
	}
	if status == http.StatusServiceUnavailable {
		var lt *ledger.LockTimeoutError
		if errors.As(err, &lt) {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(lt.Waited.Seconds()))))
		}
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	writeJSON(w, status, resp)
}

// writeValidationError reports the first failing field of a request DTO.
func writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Invalid request", Details: err.Error()}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		resp.Field = fe.Field()
		resp.Details = fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			resp.Details += "=" + fe.Param()
		}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
