package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs
// unit tests and the no-infrastructure dev mode; semantics mirror
// PgRepository, including compare-and-set status updates.
type MemoryRepository struct {
	mu         sync.RWMutex
	doctors    map[uuid.UUID]*Doctor
	patients   map[uuid.UUID]*Patient
	templates  map[uuid.UUID]*AvailabilityTemplate
	exceptions map[uuid.UUID][]AvailabilityException // by doctor
	bookings   map[uuid.UUID]*Booking
	events     []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:    make(map[uuid.UUID]*Doctor),
		patients:   make(map[uuid.UUID]*Patient),
		templates:  make(map[uuid.UUID]*AvailabilityTemplate),
		exceptions: make(map[uuid.UUID][]AvailabilityException),
		bookings:   make(map[uuid.UUID]*Booking),
	}
}

// AddDoctor registers a doctor for test setup and seeding.
func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.doctors[d.ID] = &cp
}

// AddPatient registers a patient for test setup and seeding.
func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.patients[p.ID] = &cp
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) GetTemplate(_ context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[doctorID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *tpl
	cp.Rules = append([]WeekdayRule(nil), tpl.Rules...)
	return &cp, nil
}

func (r *MemoryRepository) SaveTemplate(_ context.Context, tpl *AvailabilityTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tpl
	cp.Rules = append([]WeekdayRule(nil), tpl.Rules...)
	cp.UpdatedAt = time.Now()
	r.templates[tpl.DoctorID] = &cp
	return nil
}

func (r *MemoryRepository) GetExceptions(_ context.Context, doctorID uuid.UUID, rng DateRange) ([]AvailabilityException, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fromKey := rng.From.Format(dateLayout)
	toKey := rng.To.Format(dateLayout)

	var out []AvailabilityException
	for _, ex := range r.exceptions[doctorID] {
		key := ex.DateKey()
		if key >= fromKey && key < toKey {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DateKey() < out[j].DateKey()
	})
	return out, nil
}

func (r *MemoryRepository) SaveException(_ context.Context, ex *AvailabilityException) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.exceptions[ex.DoctorID]
	for i, existing := range list {
		if existing.DateKey() == ex.DateKey() {
			list[i] = *ex
			r.exceptions[ex.DoctorID] = list
			return nil
		}
	}
	r.exceptions[ex.DoctorID] = append(list, *ex)
	return nil
}

func (r *MemoryRepository) GetBookings(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.DoctorID != doctorID {
			continue
		}
		if b.Overlaps(from, to) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, status BookingStatus, limit, offset int) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.PatientID != patientID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.After(out[j].Start)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) InsertBooking(_ context.Context, b *Booking) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *b
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.bookings[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (r *MemoryRepository) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = time.Now()

	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) FindExpiredPending(_ context.Context, now time.Time) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.Status == StatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}
