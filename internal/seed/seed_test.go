package seed

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/practitioner"
)

func TestGeneratorProducesValidConfigs(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	ps := NewGenerator(42, loc).Practitioners(25)
	require.Len(t, ps, 25)
	for _, p := range ps {
		assert.NotEmpty(t, p.Name)
		assert.Contains(t, specialties, p.Specialty)
		assert.Equal(t, p.ID, p.Availability.PractitionerID)
		assert.NoError(t, p.Availability.Validate())
		assert.True(t, p.Availability.Works(time.Monday))
		assert.False(t, p.Availability.Works(time.Sunday))
	}
}

func TestGeneratorIsReproducible(t *testing.T) {
	a := NewGenerator(7, nil).Patients(3)
	b := NewGenerator(7, nil).Patients(3)
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Email, b[i].Email)
	}
}

func TestWeekdaysUseISONumbering(t *testing.T) {
	cfg := availability.Config{WorkingDays: availability.Weekdays(time.Monday, time.Friday, time.Sunday)}
	assert.Equal(t, []int16{1, 5, 7}, weekdays(cfg))
}

func TestLoadMemory(t *testing.T) {
	ps := NewGenerator(1, nil).Practitioners(3)
	configs := availability.NewStaticProvider()
	names := practitioner.NewStaticDirectory()

	LoadMemory(ps, configs, names)

	for _, p := range ps {
		cfg, err := configs.GetAvailability(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Availability.SlotMinutes, cfg.SlotMinutes)

		name, err := names.PractitionerName(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, name)
	}
}

func TestInsertPractitioners(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps := NewGenerator(3, nil).Practitioners(2)

	mock.ExpectBegin()
	for _, p := range ps {
		mock.ExpectExec("INSERT INTO practitioners").
			WithArgs(p.ID, p.Name, p.Specialty).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO practitioner_availability").
			WithArgs(p.ID, "UTC", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				p.Availability.SlotMinutes, p.Availability.MinLeadMinutes, p.Availability.MaxLeadHours).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, InsertPractitioners(context.Background(), mock, ps))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPatientsBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	patients := NewGenerator(5, nil).Patients(5)
	for _, batch := range [][]Patient{patients[:2], patients[2:4], patients[4:]} {
		mock.ExpectBegin()
		for _, p := range batch {
			mock.ExpectExec("INSERT INTO patients").
				WithArgs(p.ID, p.Name, p.Email).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectCommit()
	}

	var progress []int
	err = InsertPatients(context.Background(), mock, patients, 2, func(done, _ int) { progress = append(progress, done) })
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}
