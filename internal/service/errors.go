package service

import (
	"errors"
	"fmt"
)

// Виды ошибок для вызывающих. Сравнивать через errors.Is.
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrSlotConflict          = errors.New("slot conflict")
	ErrIllegalTransition     = errors.New("illegal transition")
	ErrNotCancellable        = errors.New("appointment not cancellable")
	ErrUnknownReference      = errors.New("unknown reference")
	ErrUnknownFolio          = errors.New("unknown folio")
	ErrIncompleteCaptureData = errors.New("incomplete capture data")
	ErrAlreadyPaid           = errors.New("already paid")
	ErrForbidden             = errors.New("forbidden")
	ErrCaptureMismatch       = errors.New("capture does not match amount due")
	ErrPaymentProcessor      = errors.New("payment processor unavailable")
	ErrInternal              = errors.New("internal error")
)

func failf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return failf(ErrInvalidRequest, format, args...)
}

// storageErr прячет ошибку хранилища за ErrInternal, но оставляет её в цепочке
// (TxManager смотрит на pgconn.PgError для повтора)
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
