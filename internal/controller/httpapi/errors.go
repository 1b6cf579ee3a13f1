package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Freeeeeet/frontdesk/internal/service"
	"go.uber.org/zap"
)

type problem struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorMapping struct {
	kind   error
	status int
	code   string
	hint   string
}

// Виды ошибок не пересекаются, порядок не важен
var errorMappings = []errorMapping{
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{service.ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{service.ErrUnknownReference, http.StatusNotFound, "unknown_reference", ""},
	{service.ErrUnknownFolio, http.StatusNotFound, "unknown_folio", ""},
	{service.ErrSlotConflict, http.StatusConflict, "slot_conflict", "pick another slot"},
	{service.ErrIllegalTransition, http.StatusConflict, "illegal_transition", ""},
	{service.ErrNotCancellable, http.StatusConflict, "not_cancellable", ""},
	{service.ErrAlreadyPaid, http.StatusConflict, "already_paid", ""},
	{service.ErrCaptureMismatch, http.StatusUnprocessableEntity, "capture_mismatch", "contact support with your transaction id"},
	{service.ErrIncompleteCaptureData, http.StatusBadGateway, "incomplete_capture_data", "contact support with your transaction id"},
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			writeJSON(w, m.status, problem{Code: m.code, Error: err.Error(), Hint: m.hint})
			return
		}
	}

	if errors.Is(err, service.ErrPaymentProcessor) {
		h.logger.Warn("Payment processor unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, problem{
			Code:      "payment_processor_unavailable",
			Error:     "payment processor is unavailable",
			Retryable: true,
		})
		return
	}

	// Внутренние детали наружу не отдаём
	h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, problem{Code: "internal", Error: "internal error"})
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
