package practitioner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgDirectoryCachesNames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT name FROM practitioners").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Dra. Beatriz Costa"))

	dir := NewPgDirectory(mock)
	for range 3 {
		name, err := dir.PractitionerName(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Dra. Beatriz Costa", name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())

	dir.Forget(id)
	mock.ExpectQuery("SELECT name FROM practitioners").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Dra. Beatriz Costa Lima"))
	name, err := dir.PractitionerName(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Dra. Beatriz Costa Lima", name)
}

func TestPgDirectoryNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT name FROM practitioners").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewPgDirectory(mock).PractitionerName(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory()
	id := uuid.New()

	_, err := dir.PractitionerName(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	dir.Set(id, "Dr. João Pereira")
	name, err := dir.PractitionerName(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Dr. João Pereira", name)
}
