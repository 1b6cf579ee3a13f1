package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
)

// StatusDisplay представляет отображение статуса записи
type StatusDisplay struct {
	Emoji string
	Text  string
}

// GetStatusDisplay возвращает emoji и текст для статуса записи
func GetStatusDisplay(status model.AppointmentStatus) StatusDisplay {
	displays := map[model.AppointmentStatus]StatusDisplay{
		model.StatusScheduled:             {"⏳", "Scheduled, awaiting payment"},
		model.StatusPaidPendingAttendance: {"💳", "Paid, awaiting attendance"},
		model.StatusAttended:              {"✅", "Attended"},
		model.StatusCancelledByPatient:    {"❌", "Cancelled by patient"},
		model.StatusCancelledByDoctor:     {"🩺", "Cancelled by doctor"},
		model.StatusCancelledUnpaid:       {"⌛", "Cancelled, payment window elapsed"},
		model.StatusNoShow:                {"🚫", "No-show"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return StatusDisplay{"❓", "Unknown"}
}

// FormatDateTime форматирует дату и время в UTC
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04 UTC")
}

// FormatTransition собирает однострочное сообщение для ленты регистратуры
func FormatTransition(rec *model.TransitionRecord) string {
	to := GetStatusDisplay(rec.To)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Folio %d: ", to.Emoji, rec.Folio)
	if rec.From == "" {
		b.WriteString("booked")
	} else {
		fmt.Fprintf(&b, "%s → %s", GetStatusDisplay(rec.From).Text, to.Text)
	}

	actor := string(rec.ActorRole)
	if rec.ActorID != 0 {
		actor = fmt.Sprintf("%s #%d", rec.ActorRole, rec.ActorID)
	}
	fmt.Fprintf(&b, " (%s, %s)", actor, FormatDateTime(rec.OccurredAt))

	if motive := strings.TrimSpace(rec.Motive); motive != "" {
		fmt.Fprintf(&b, "\n%s", motive)
	}

	return b.String()
}
