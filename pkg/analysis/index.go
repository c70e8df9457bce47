package analysis

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	_ "modernc.org/sqlite" // SQLite driver
)

const indexSchema = `
CREATE TABLE groups (
    dir TEXT PRIMARY KEY,
    molecule TEXT NOT NULL,
    ensemble TEXT NOT NULL,
    temperature REAL NOT NULL,
    pressure REAL,             -- NULL when the statepoint has none
    cutoff_style TEXT NOT NULL,
    long_range_correction TEXT NOT NULL,
    jobs INTEGER NOT NULL,
    density_mean REAL,         -- NULL when skipped or without samples
    density_sem REAL,
    density_samples INTEGER,
    skipped TEXT
);
`

// Index is a SQLite database with one row per group. Like the output root it
// is recreated by every run.
type Index struct {
	Path string
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: !math.IsNaN(f) && !math.IsInf(f, 0)}
}

// Write replaces the database with the given results.
func (x *Index) Write(results []Result) error {
	if err := os.Remove(x.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	db, err := sql.Open("sqlite", x.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(indexSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO groups (dir, molecule, ensemble, temperature, pressure,
		cutoff_style, long_range_correction, jobs, density_mean, density_sem, density_samples, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		k := r.Key
		pressure := sql.NullFloat64{Float64: k.Pressure, Valid: k.HasPressure}

		var (
			mean, sem sql.NullFloat64
			n         sql.NullInt64
			skipped   sql.NullString
		)
		if r.Density != nil {
			mean = nullFloat(r.Density.Mean)
			sem = nullFloat(r.Density.SEM)
			n = sql.NullInt64{Int64: int64(r.Density.N), Valid: true}
		}
		if r.DensitySkipped != nil {
			skipped = sql.NullString{String: r.DensitySkipped.Error(), Valid: true}
		}

		_, err = stmt.Exec(k.Dir(), k.Molecule, string(k.Ensemble), k.Temperature, pressure,
			k.CutoffStyle, string(k.LongRangeCorrection), r.Jobs, mean, sem, n, skipped)
		if err != nil {
			return fmt.Errorf("insert %s: %w", k, err)
		}
	}

	return tx.Commit()
}
