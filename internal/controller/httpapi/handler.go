package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Calendar interface {
	Available(ctx context.Context, doctorID int64, date time.Time) ([]model.Slot, error)
}

type Bookings interface {
	Book(ctx context.Context, actor model.Actor, req service.BookingRequest) (*service.BookingReceipt, error)
	Receipt(ctx context.Context, actor model.Actor, folio int64) (*service.BookingReceipt, error)
}

type Cancellations interface {
	Quote(ctx context.Context, folio int64, actor model.Actor) (*service.CancellationQuote, error)
	Cancel(ctx context.Context, folio int64, actor model.Actor, motive string) (*service.CancellationResult, error)
}

type StatusChanger interface {
	Transition(ctx context.Context, folio int64, target model.AppointmentStatus, actor model.Actor, motive string) (*model.Appointment, error)
}

type Payments interface {
	PaySimulatedCard(ctx context.Context, actor model.Actor, folio int64, card service.CardDetails) (*service.PaymentReceipt, error)
	CreateExternalOrder(ctx context.Context, actor model.Actor, folio int64) (*model.ExternalOrder, error)
	CaptureExternalOrder(ctx context.Context, actor model.Actor, folio int64, orderID string) (*service.PaymentReceipt, error)
}

// Handler переводит HTTP в вызовы движка записи
type Handler struct {
	calendar      Calendar
	bookings      Bookings
	cancellations Cancellations
	statuses      StatusChanger
	payments      Payments
	logger        *zap.Logger
}

func NewHandler(
	calendar Calendar,
	bookings Bookings,
	cancellations Cancellations,
	statuses StatusChanger,
	payments Payments,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		calendar:      calendar,
		bookings:      bookings,
		cancellations: cancellations,
		statuses:      statuses,
		payments:      payments,
		logger:        logger,
	}
}

type slotsResponse struct {
	DoctorID int64        `json:"doctor_id"`
	Date     string       `json:"date"`
	Slots    []model.Slot `json:"slots"`
}

func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathID(w, r, "doctorID")
	if !ok {
		return
	}
	date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), time.UTC)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.calendar.Available(r.Context(), doctorID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date.Format("2006-01-02"), Slots: slots})
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req service.BookingRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := h.bookings.Book(r.Context(), mustActor(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}

	receipt, err := h.bookings.Receipt(r.Context(), mustActor(r), folio)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) CancellationPolicy(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}

	quote, err := h.cancellations.Quote(r.Context(), folio, mustActor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

type cancelRequest struct {
	Motive string `json:"motive"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}
	// Тело необязательно: пустое (в том числе chunked) значит отмену без причины
	var req cancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	result, err := h.cancellations.Cancel(r.Context(), folio, mustActor(r), req.Motive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type transitionRequest struct {
	Status string `json:"status"`
	Motive string `json:"motive"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	target, valid := model.ParseAppointmentStatus(req.Status)
	if !valid {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "unknown status "+strconv.Quote(req.Status))
		return
	}

	appt, err := h.statuses.Transition(r.Context(), folio, target, mustActor(r), req.Motive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) PayByCard(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}
	var card service.CardDetails
	if !decode(w, r, &card) {
		return
	}

	receipt, err := h.payments.PaySimulatedCard(r.Context(), mustActor(r), folio, card)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}

	order, err := h.payments.CreateExternalOrder(r.Context(), mustActor(r), folio)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

type captureRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	folio, ok := pathID(w, r, "folio")
	if !ok {
		return
	}
	var req captureRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := h.payments.CaptureExternalOrder(r.Context(), mustActor(r), folio, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// mustActor вызывается только за Authenticate
func mustActor(r *http.Request) model.Actor {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		panic("httpapi: route registered without Authenticate")
	}
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeProblem(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}
