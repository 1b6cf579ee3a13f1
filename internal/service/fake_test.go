package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository"
	"go.uber.org/zap"
)

// memDB is an in-memory stand-in for the Postgres schema. Transactions are
// serialized and rolled back from a snapshot, and the active-slot and
// external-ref unique indexes are enforced like the real ones.
type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	specialties   map[int64]*model.Specialty
	doctors       map[int64]*model.Doctor
	patients      map[int64]*model.Patient
	schedules     map[int64]map[time.Weekday]*model.DoctorSchedule
	appointments  map[int64]*model.Appointment
	payments      map[int64]*model.Payment
	transitions   []*model.TransitionRecord
	cancellations map[int64]*model.CancellationRecord
	nextFolio     int64

	failPaymentCreate error
	failDoctorLookup  error
}

type memState struct {
	appointments  map[int64]model.Appointment
	payments      map[int64]model.Payment
	transitions   int
	cancellations map[int64]model.CancellationRecord
	nextFolio     int64
}

func newMemDB() *memDB {
	return &memDB{
		specialties:   map[int64]*model.Specialty{},
		doctors:       map[int64]*model.Doctor{},
		patients:      map[int64]*model.Patient{},
		schedules:     map[int64]map[time.Weekday]*model.DoctorSchedule{},
		appointments:  map[int64]*model.Appointment{},
		payments:      map[int64]*model.Payment{},
		cancellations: map[int64]*model.CancellationRecord{},
	}
}

func (db *memDB) snapshot() memState {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := memState{
		appointments:  make(map[int64]model.Appointment, len(db.appointments)),
		payments:      make(map[int64]model.Payment, len(db.payments)),
		transitions:   len(db.transitions),
		cancellations: make(map[int64]model.CancellationRecord, len(db.cancellations)),
		nextFolio:     db.nextFolio,
	}
	for k, v := range db.appointments {
		s.appointments[k] = *v
	}
	for k, v := range db.payments {
		s.payments[k] = *v
	}
	for k, v := range db.cancellations {
		s.cancellations[k] = *v
	}
	return s
}

func (db *memDB) restore(s memState) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.appointments = make(map[int64]*model.Appointment, len(s.appointments))
	for k, v := range s.appointments {
		v := v
		db.appointments[k] = &v
	}
	db.payments = make(map[int64]*model.Payment, len(s.payments))
	for k, v := range s.payments {
		v := v
		db.payments[k] = &v
	}
	db.cancellations = make(map[int64]*model.CancellationRecord, len(s.cancellations))
	for k, v := range s.cancellations {
		v := v
		db.cancellations[k] = &v
	}
	db.transitions = db.transitions[:s.transitions]
	db.nextFolio = s.nextFolio
}

type memTxKey struct{}

// WithinTx serializes every transaction, which is stricter than row locks
func (db *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

// directory

type memDirectory struct{ db *memDB }

func (d memDirectory) GetDoctor(_ context.Context, id int64) (*model.Doctor, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.failDoctorLookup != nil {
		return nil, d.db.failDoctorLookup
	}
	if v, ok := d.db.doctors[id]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (d memDirectory) GetSpecialty(_ context.Context, id int64) (*model.Specialty, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if v, ok := d.db.specialties[id]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (d memDirectory) GetPatient(_ context.Context, id int64) (*model.Patient, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if v, ok := d.db.patients[id]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (d memDirectory) GetSchedule(_ context.Context, doctorID int64, weekday time.Weekday) (*model.DoctorSchedule, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if v, ok := d.db.schedules[doctorID][weekday]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

// appointments

type memAppointments struct{ db *memDB }

func (a memAppointments) Create(_ context.Context, appt *model.Appointment) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()

	for _, existing := range a.db.appointments {
		if existing.DoctorID == appt.DoctorID && existing.ScheduledAt.Equal(appt.ScheduledAt) && !existing.Status.IsCancelled() {
			return repository.ErrSlotTaken
		}
	}

	a.db.nextFolio++
	appt.Folio = a.db.nextFolio
	appt.UpdatedAt = appt.CreatedAt
	c := *appt
	a.db.appointments[appt.Folio] = &c
	return nil
}

func (a memAppointments) GetByFolio(_ context.Context, folio int64) (*model.Appointment, error) {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	if v, ok := a.db.appointments[folio]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (a memAppointments) GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Appointment, error) {
	return a.GetByFolio(ctx, folio)
}

func (a memAppointments) UpdateStatus(_ context.Context, folio int64, from, to model.AppointmentStatus, at time.Time) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	v, ok := a.db.appointments[folio]
	if !ok || v.Status != from {
		return repository.ErrNotFound
	}
	v.Status = to
	v.UpdatedAt = at
	return nil
}

func (a memAppointments) BookedStarts(_ context.Context, doctorID int64, from, to time.Time) ([]time.Time, error) {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	var starts []time.Time
	for _, v := range a.db.appointments {
		if v.DoctorID != doctorID || v.Status.IsCancelled() {
			continue
		}
		if !v.ScheduledAt.Before(from) && v.ScheduledAt.Before(to) {
			starts = append(starts, v.ScheduledAt)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts, nil
}

func (a memAppointments) ListLapseCandidates(_ context.Context, createdBefore, now time.Time, limit int) ([]int64, error) {
	return a.list(limit, func(v *model.Appointment) bool {
		return v.Status == model.StatusScheduled && !v.CreatedAt.After(createdBefore) && v.ScheduledAt.After(now)
	}), nil
}

func (a memAppointments) ListNoShowCandidates(_ context.Context, scheduledBefore time.Time, limit int) ([]int64, error) {
	return a.list(limit, func(v *model.Appointment) bool {
		return v.Status == model.StatusPaidPendingAttendance && !v.ScheduledAt.After(scheduledBefore)
	}), nil
}

func (a memAppointments) list(limit int, match func(*model.Appointment) bool) []int64 {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	var folios []int64
	for folio, v := range a.db.appointments {
		if match(v) {
			folios = append(folios, folio)
		}
	}
	sort.Slice(folios, func(i, j int) bool { return folios[i] < folios[j] })
	if len(folios) > limit {
		folios = folios[:limit]
	}
	return folios
}

// payments

type memPayments struct{ db *memDB }

func (p memPayments) Create(_ context.Context, payment *model.Payment) error {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if p.db.failPaymentCreate != nil {
		return p.db.failPaymentCreate
	}
	c := *payment
	p.db.payments[payment.Folio] = &c
	return nil
}

func (p memPayments) GetByFolio(_ context.Context, folio int64) (*model.Payment, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if v, ok := p.db.payments[folio]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (p memPayments) GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Payment, error) {
	return p.GetByFolio(ctx, folio)
}

func (p memPayments) MarkPaid(_ context.Context, payment *model.Payment) error {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if payment.ExternalRef != nil {
		for folio, v := range p.db.payments {
			if folio != payment.Folio && v.HasExternalRef(*payment.ExternalRef) {
				return repository.ErrDuplicateExternalRef
			}
		}
	}
	v, ok := p.db.payments[payment.Folio]
	if !ok || v.Status != model.PaymentStatusPending {
		return repository.ErrNotFound
	}
	*v = *payment
	return nil
}

func (p memPayments) ApplyCancellation(_ context.Context, payment *model.Payment) error {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	v, ok := p.db.payments[payment.Folio]
	if !ok {
		return repository.ErrNotFound
	}
	v.Status = payment.Status
	v.AmountRefunded = payment.AmountRefunded
	v.UpdatedAt = payment.UpdatedAt
	return nil
}

// audit

type memTransitions struct{ db *memDB }

func (t memTransitions) Append(_ context.Context, rec *model.TransitionRecord) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	c := *rec
	t.db.transitions = append(t.db.transitions, &c)
	return nil
}

func (t memTransitions) ListByFolio(_ context.Context, folio int64) ([]*model.TransitionRecord, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var out []*model.TransitionRecord
	for _, rec := range t.db.transitions {
		if rec.Folio == folio {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

type memCancellations struct{ db *memDB }

func (c memCancellations) Append(_ context.Context, rec *model.CancellationRecord) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if _, exists := c.db.cancellations[rec.Folio]; exists {
		return errors.New("cancellation already recorded")
	}
	v := *rec
	c.db.cancellations[rec.Folio] = &v
	return nil
}

func (c memCancellations) GetByFolio(_ context.Context, folio int64) (*model.CancellationRecord, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if v, ok := c.db.cancellations[folio]; ok {
		r := *v
		return &r, nil
	}
	return nil, nil
}

// memCache is a map-backed SlotCache that counts invalidations.
type memCache struct {
	mu            sync.Mutex
	entries       map[string][]model.Slot
	invalidations int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]model.Slot{}}
}

func cacheKey(doctorID int64, day time.Time) string {
	return fmt.Sprintf("%d/%s", doctorID, day.Format("2006-01-02"))
}

func (c *memCache) Get(_ context.Context, doctorID int64, day time.Time) ([]model.Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots, ok := c.entries[cacheKey(doctorID, day)]
	return slots, ok, nil
}

func (c *memCache) Set(_ context.Context, doctorID int64, day time.Time, slots []model.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(doctorID, day)] = slots
	return nil
}

func (c *memCache) Invalidate(_ context.Context, doctorID int64, day time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(doctorID, day))
	c.invalidations++
	return nil
}

// fakeProcessor plays the PayPal side of order creation and capture.
type fakeProcessor struct {
	created  []int64
	capture  *model.ExternalCapture
	err      error
	captures int
}

func (f *fakeProcessor) CreateOrder(_ context.Context, folio int64, amountCents int64, currency string) (*model.ExternalOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, folio)
	return &model.ExternalOrder{OrderID: "ORDER-1", ApprovalURL: "https://paypal.test/approve/ORDER-1"}, nil
}

func (f *fakeProcessor) CaptureOrder(_ context.Context, orderID string) (*model.ExternalCapture, error) {
	f.captures++
	if f.err != nil {
		return nil, f.err
	}
	c := *f.capture
	c.OrderID = orderID
	return &c, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

const (
	cardiologyID  = int64(1)
	dermatologyID = int64(2)
	drLopezID     = int64(10)
	drRuizID      = int64(11)
	anaID         = int64(100)
	luisID        = int64(101)
	cardioCost    = int64(35000)
)

var (
	// Monday 08:00 UTC
	testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	// Thursday, 73 hours after testNow
	thursday0900 = time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
)

type testEngine struct {
	db           *memDB
	cache        *memCache
	clock        *testClock
	processor    *fakeProcessor
	calendar     *SlotCalendar
	machine      *StatusMachine
	booking      *BookingService
	cancellation *CancellationService
	payment      *PaymentService
	sweeper      *LapseSweeper
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	db := newMemDB()
	db.specialties[cardiologyID] = &model.Specialty{ID: cardiologyID, Name: "Cardiology", CostCents: cardioCost}
	db.specialties[dermatologyID] = &model.Specialty{ID: dermatologyID, Name: "Dermatology", CostCents: 28000}
	db.doctors[drLopezID] = &model.Doctor{ID: drLopezID, Name: "Dr. Lopez", SpecialtyID: cardiologyID, ConsultingRoom: "C-12"}
	db.doctors[drRuizID] = &model.Doctor{ID: drRuizID, Name: "Dr. Ruiz", SpecialtyID: dermatologyID, ConsultingRoom: "D-3"}
	db.patients[anaID] = &model.Patient{ID: anaID, Name: "Ana"}
	db.patients[luisID] = &model.Patient{ID: luisID, Name: "Luis"}

	for _, doctorID := range []int64{drLopezID, drRuizID} {
		db.schedules[doctorID] = map[time.Weekday]*model.DoctorSchedule{}
		for wd := time.Monday; wd <= time.Friday; wd++ {
			db.schedules[doctorID][wd] = &model.DoctorSchedule{
				DoctorID:    doctorID,
				Weekday:     wd,
				StartMinute: 9 * 60,
				EndMinute:   13 * 60,
				ShiftLabel:  "morning",
			}
		}
	}

	policy := config.DefaultPolicy()
	logger := zap.NewNop()
	clock := &testClock{t: testNow}
	cache := newMemCache()
	processor := &fakeProcessor{}

	directory := memDirectory{db: db}
	appointments := memAppointments{db: db}
	payments := memPayments{db: db}
	transitions := memTransitions{db: db}
	cancellations := memCancellations{db: db}

	calendar := NewSlotCalendar(directory, appointments, cache, nil, policy, logger)
	machine := NewStatusMachine(db, appointments, transitions, nil, logger)
	booking := NewBookingService(db, directory, appointments, payments, transitions, cancellations, calendar, machine, nil, policy, "MXN", logger)
	cancellation := NewCancellationService(db, appointments, payments, cancellations, calendar, machine, nil, policy, logger)
	payment := NewPaymentService(db, appointments, payments, machine, processor, nil, logger)
	sweeper := NewLapseSweeper(db, appointments, payments, calendar, machine, nil, policy, logger)

	calendar.now = clock.Now
	machine.now = clock.Now
	booking.now = clock.Now
	cancellation.now = clock.Now
	payment.now = clock.Now
	sweeper.now = clock.Now

	return &testEngine{
		db:           db,
		cache:        cache,
		clock:        clock,
		processor:    processor,
		calendar:     calendar,
		machine:      machine,
		booking:      booking,
		cancellation: cancellation,
		payment:      payment,
		sweeper:      sweeper,
	}
}

func (e *testEngine) book(t *testing.T, patientID int64, at time.Time) *BookingReceipt {
	t.Helper()
	receipt, err := e.booking.Book(context.Background(), model.PatientActor{PatientID: patientID}, BookingRequest{
		DoctorID:    drLopezID,
		SpecialtyID: cardiologyID,
		Date:        at.Format("2006-01-02"),
		Time:        at.Format("15:04"),
	})
	if err != nil {
		t.Fatalf("book %s: %v", at, err)
	}
	return receipt
}

func (e *testEngine) payByCard(t *testing.T, patientID, folio int64) {
	t.Helper()
	_, err := e.payment.PaySimulatedCard(context.Background(), model.PatientActor{PatientID: patientID}, folio, testCard)
	if err != nil {
		t.Fatalf("pay folio %d: %v", folio, err)
	}
}

func (e *testEngine) appointment(t *testing.T, folio int64) model.Appointment {
	t.Helper()
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	appt, ok := e.db.appointments[folio]
	if !ok {
		t.Fatalf("folio %d not stored", folio)
	}
	return *appt
}

func (e *testEngine) paymentOf(t *testing.T, folio int64) model.Payment {
	t.Helper()
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	p, ok := e.db.payments[folio]
	if !ok {
		t.Fatalf("payment for folio %d not stored", folio)
	}
	return *p
}

func (e *testEngine) transitionsOf(folio int64) []model.TransitionRecord {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	var out []model.TransitionRecord
	for _, rec := range e.db.transitions {
		if rec.Folio == folio {
			out = append(out, *rec)
		}
	}
	return out
}

var testCard = CardDetails{
	HolderName: "Ana Perez",
	Number:     "4111 1111 1111 1111",
	Expiry:     "12/29",
	CVV:        "123",
}
