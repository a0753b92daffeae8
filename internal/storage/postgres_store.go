package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/example/ride-matchmaking/internal/models"
)

// PostgresArchive implements RideArchive on a rides table.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// Migrate executes a SQL file against the archive database.
func (p *PostgresArchive) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (p *PostgresArchive) SaveRide(ctx context.Context, r models.RideStatus) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, rider_id, driver_id, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING`,
		r.RideID, r.RiderID, r.DriverID, string(r.Status), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresArchive) UpdateRide(ctx context.Context, r models.RideStatus) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET driver_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.DriverID, string(r.Status), r.UpdatedAt, r.RideID)
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
