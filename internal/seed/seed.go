// Package seed generates demo practitioners, availability and patients.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type Practitioner struct {
	ID           uuid.UUID
	Name         string
	Specialty    string
	Availability availability.Config
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Email string
}

type Generator struct {
	faker *gofakeit.Faker
	loc   *time.Location
}

// NewGenerator returns a generator whose output is reproducible for a given
// seed. Availability is expressed in loc.
func NewGenerator(seed uint64, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{faker: gofakeit.New(seed), loc: loc}
}

func (g *Generator) Practitioners(n int) []Practitioner {
	out := make([]Practitioner, 0, n)
	slotSizes := []int{15, 20, 30, 45, 60}
	for range n {
		id := uuid.New()
		startHour := g.faker.Number(7, 9)
		endHour := g.faker.Number(16, 19)
		lunchStart, lunchEnd := zonedtime.NewClockTime(12, 0), zonedtime.NewClockTime(13, 0)

		days := availability.Weekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
		if g.faker.Bool() {
			days[time.Saturday] = true
		}

		cfg := availability.Config{
			PractitionerID: id,
			Location:       g.loc,
			WorkingDays:    days,
			DayStart:       zonedtime.NewClockTime(startHour, 0),
			DayEnd:         zonedtime.NewClockTime(endHour, 0),
			SlotMinutes:    slotSizes[g.faker.Number(0, len(slotSizes)-1)],
			MinLeadMinutes: g.faker.Number(0, 4) * 30,
			MaxLeadHours:   24 * g.faker.Number(30, 90),
		}
		if g.faker.Number(0, 9) > 1 {
			cfg.LunchStart, cfg.LunchEnd = &lunchStart, &lunchEnd
		}

		out = append(out, Practitioner{
			ID:           id,
			Name:         g.faker.Name(),
			Specialty:    specialties[g.faker.Number(0, len(specialties)-1)],
			Availability: cfg,
		})
	}
	return out
}

func (g *Generator) Patients(n int) []Patient {
	out := make([]Patient, 0, n)
	for range n {
		out = append(out, Patient{ID: uuid.New(), Name: g.faker.Name(), Email: g.faker.Email()})
	}
	return out
}

// Memory is the subset of the in-memory adapters seeding fills.
type Memory interface {
	Set(cfg availability.Config)
}

type NameSetter interface {
	Set(id uuid.UUID, name string)
}

func LoadMemory(practitioners []Practitioner, configs Memory, names NameSetter) {
	for _, p := range practitioners {
		configs.Set(p.Availability)
		names.Set(p.ID, p.Name)
	}
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgClock(c zonedtime.ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func optionalClock(c *zonedtime.ClockTime) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return pgClock(*c)
}

// weekdays encodes working days as ISO numbers, 1 = Monday ... 7 = Sunday.
func weekdays(cfg availability.Config) []int16 {
	var out []int16
	for iso := 1; iso <= 7; iso++ {
		if cfg.WorkingDays[time.Weekday(iso%7)] {
			out = append(out, int16(iso))
		}
	}
	return out
}

func insertPractitioner(ctx context.Context, tx execer, p Practitioner) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, p.ID, p.Name, p.Specialty); err != nil {
		return fmt.Errorf("insert practitioner: %w", err)
	}

	cfg := p.Availability
	if _, err := tx.Exec(ctx, `
		INSERT INTO practitioner_availability
			(practitioner_id, timezone, working_days, day_start, day_end, lunch_start, lunch_end,
			 slot_minutes, min_lead_minutes, max_lead_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, cfg.Loc().String(), weekdays(cfg), pgClock(cfg.DayStart), pgClock(cfg.DayEnd),
		optionalClock(cfg.LunchStart), optionalClock(cfg.LunchEnd),
		cfg.SlotMinutes, cfg.MinLeadMinutes, cfg.MaxLeadHours); err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

// InsertPractitioners writes practitioners and their availability in one
// transaction.
func InsertPractitioners(ctx context.Context, db beginner, practitioners []Practitioner) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range practitioners {
		if err := insertPractitioner(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// InsertPatients writes patients in batches of batchSize, one transaction
// per batch. progress, when set, is called after every batch.
func InsertPatients(ctx context.Context, db beginner, patients []Patient, batchSize int, progress func(done, total int)) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for offset := 0; offset < len(patients); offset += batchSize {
		end := min(offset+batchSize, len(patients))

		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		for _, p := range patients[offset:end] {
			if _, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, p.ID, p.Name, p.Email); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("insert patient: %w", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		if progress != nil {
			progress(end, len(patients))
		}
	}
	return nil
}
