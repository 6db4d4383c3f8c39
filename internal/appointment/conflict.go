package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Occupancy is a snapshot of what occupies a practitioner's calendar over a
// range. Conflict is the only booking-conflict predicate in the codebase.
type Occupancy struct {
	appointments []Appointment
	blocks       []Block
}

func NewOccupancy(appointments []Appointment, blocks []Block) *Occupancy {
	return &Occupancy{appointments: appointments, blocks: blocks}
}

// Conflict returns what occupies [start, start+durationMinutes), or nil.
// exclude skips one appointment, typically the one being rescheduled.
func (o *Occupancy) Conflict(start time.Time, durationMinutes int, exclude *uuid.UUID) *Conflict {
	if o == nil {
		return nil
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	for _, b := range o.blocks {
		if !Overlaps(start, end, b.StartAt, b.EndAt) {
			continue
		}
		id := b.ID
		return &Conflict{
			Kind:            ConflictBlock,
			BlockID:         &id,
			StartAt:         b.StartAt,
			DurationMinutes: int(b.EndAt.Sub(b.StartAt) / time.Minute),
			Reason:          b.Reason,
		}
	}

	for _, a := range o.appointments {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Status.FreesSlot() {
			continue
		}
		if !Overlaps(start, end, a.StartAt, a.EndAt()) {
			continue
		}
		id, patient := a.ID, a.PatientID
		return &Conflict{
			Kind:            ConflictAppointment,
			AppointmentID:   &id,
			PatientID:       &patient,
			StartAt:         a.StartAt,
			DurationMinutes: a.DurationMinutes,
		}
	}
	return nil
}

// ConflictDetector answers "is this interval free?" for every booking path,
// manual or automated.
type ConflictDetector struct {
	appointments OccupancyReader
	blocks       BlockRepository
}

func NewConflictDetector(appointments OccupancyReader, blocks BlockRepository) *ConflictDetector {
	return &ConflictDetector{appointments: appointments, blocks: blocks}
}

// WithReader returns a detector reading appointments through r, e.g. an open
// transaction. Blocks are still read from the original repository.
func (d *ConflictDetector) WithReader(r OccupancyReader) *ConflictDetector {
	return &ConflictDetector{appointments: r, blocks: d.blocks}
}

// Load snapshots everything that can occupy any instant of [from, to).
func (d *ConflictDetector) Load(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (*Occupancy, error) {
	appts, err := d.appointments.ListPractitionerAppointments(ctx, practitionerID, from.Add(-MaxDuration), to)
	if err != nil {
		return nil, fmt.Errorf("list practitioner appointments: %w", err)
	}

	var blocks []Block
	if d.blocks != nil {
		blocks, err = d.blocks.ListBlocks(ctx, practitionerID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}
	}

	sort.Slice(appts, func(i, j int) bool { return appts[i].StartAt.Before(appts[j].StartAt) })
	return NewOccupancy(appts, blocks), nil
}

func (d *ConflictDetector) FindConflict(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, exclude *uuid.UUID) (*Conflict, error) {
	durationMinutes = ClampDuration(durationMinutes)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	occ, err := d.Load(ctx, practitionerID, start, end)
	if err != nil {
		return nil, err
	}
	return occ.Conflict(start, durationMinutes, exclude), nil
}

func (d *ConflictDetector) IsBlocked(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, exclude *uuid.UUID) (bool, error) {
	c, err := d.FindConflict(ctx, practitionerID, start, durationMinutes, exclude)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}
