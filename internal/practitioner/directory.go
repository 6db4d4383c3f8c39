package practitioner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("practitioner not found")

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDirectory resolves display names from the practitioners table and
// keeps them for the life of the process. Call Forget after a rename.
type PgDirectory struct {
	db rowQueryer

	mu    sync.RWMutex
	names map[uuid.UUID]string
}

func NewPgDirectory(db rowQueryer) *PgDirectory {
	return &PgDirectory{db: db, names: make(map[uuid.UUID]string)}
}

func (d *PgDirectory) PractitionerName(ctx context.Context, id uuid.UUID) (string, error) {
	d.mu.RLock()
	name, ok := d.names[id]
	d.mu.RUnlock()
	if ok {
		return name, nil
	}

	err := d.db.QueryRow(ctx, `SELECT name FROM practitioners WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("query practitioner name: %w", err)
	}

	d.mu.Lock()
	d.names[id] = name
	d.mu.Unlock()
	return name, nil
}

// Forget drops a cached name after the practitioner is renamed.
func (d *PgDirectory) Forget(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.names, id)
}

// StaticDirectory is an in-memory directory for the memory storage driver.
type StaticDirectory struct {
	mu    sync.RWMutex
	names map[uuid.UUID]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{names: make(map[uuid.UUID]string)}
}

func (d *StaticDirectory) Set(id uuid.UUID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[id] = name
}

func (d *StaticDirectory) PractitionerName(_ context.Context, id uuid.UUID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return name, nil
}
