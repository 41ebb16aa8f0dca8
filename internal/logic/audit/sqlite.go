package audit

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ecobrazo/sortarm/internal/debug"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var errIntegrity = errors.New("integrity check failed")

// SQLiteLog stores records in a SQLite table, one row per record.
type SQLiteLog struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	db      *sql.DB // nil while a corrupt store waits to be set aside
	loadErr error
}

// OpenSQLite opens (or creates) the database at path and applies the
// embedded schema migrations. A file that is not a usable database yields
// an empty log; LoadErr then reports ErrCorrupt and the file is moved aside
// on the next successful write.
func OpenSQLite(path string) (*SQLiteLog, error) {
	l := &SQLiteLog{path: path, now: time.Now}
	db, err := openDB(path)
	switch {
	case err == nil:
		l.db = db
	case isCorrupt(err):
		l.loadErr = fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		debug.Warn("audit database %s is corrupt, starting empty: %v", path, err)
	default:
		return nil, err
	}
	return l, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	if err := checkIntegrity(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func checkIntegrity(db *sql.DB) error {
	var res string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&res); err != nil {
		return fmt.Errorf("check audit database: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("check audit database: %w: %s", errIntegrity, res)
	}
	return nil
}

// isCorrupt reports whether err means the file holds no usable database,
// as opposed to an I/O or permission failure.
func isCorrupt(err error) bool {
	if errors.Is(err, errIntegrity) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return true
		}
	}
	return false
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load audit migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Note: m is not closed, closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit migration up failed: %w", err)
	}
	return nil
}

// LoadErr returns the failure encountered when the database was opened.
func (l *SQLiteLog) LoadErr() error {
	return l.loadErr
}

// recreate moves a corrupt store aside and opens a fresh database in its
// place. Callers hold l.mu.
func (l *SQLiteLog) recreate() error {
	if err := setAside(l.path, l.now()); err != nil {
		return err
	}
	db, err := openDB(l.path)
	if err != nil {
		return err
	}
	l.db = db
	return nil
}

// Append inserts rec.
func (l *SQLiteLog) Append(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		if err := l.recreate(); err != nil {
			return Record{}, err
		}
	}

	rec = stamp(rec, l.now)
	var override sql.NullFloat64
	if rec.Input.OffsetOverride != nil {
		override = sql.NullFloat64{Float64: *rec.Input.OffsetOverride, Valid: true}
	}
	_, err := l.db.Exec(`
		INSERT INTO audit_records (
			id, timestamp, x, y, zone, orientation_deg, conveyor_mode, offset_override,
			q1, q2, q3, q4, q5,
			pulse_base, pulse_shoulder, pulse_elbow, pulse_wrist_pitch, pulse_wrist_roll,
			wrist_correction_pulse
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Input.X, rec.Input.Y, rec.Input.Zone, rec.Input.OrientationDeg, rec.Input.ConveyorMode, override,
		rec.Angles.Q1, rec.Angles.Q2, rec.Angles.Q3, rec.Angles.Q4, rec.Angles.Q5,
		rec.Pulses[0], rec.Pulses[1], rec.Pulses[2], rec.Pulses[3], rec.Pulses[4],
		rec.WristCorrectionPulse,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit record: %w", err)
	}
	return rec, nil
}

// Records returns all records ordered by insertion.
func (l *SQLiteLog) Records() ([]Record, error) {
	l.mu.Lock()
	db := l.db
	l.mu.Unlock()
	if db == nil {
		return nil, nil
	}

	rows, err := db.Query(`
		SELECT id, timestamp, x, y, zone, orientation_deg, conveyor_mode, offset_override,
			q1, q2, q3, q4, q5,
			pulse_base, pulse_shoulder, pulse_elbow, pulse_wrist_pitch, pulse_wrist_roll,
			wrist_correction_pulse
		FROM audit_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			ts       string
			override sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID, &ts,
			&rec.Input.X, &rec.Input.Y, &rec.Input.Zone, &rec.Input.OrientationDeg, &rec.Input.ConveyorMode, &override,
			&rec.Angles.Q1, &rec.Angles.Q2, &rec.Angles.Q3, &rec.Angles.Q4, &rec.Angles.Q5,
			&rec.Pulses[0], &rec.Pulses[1], &rec.Pulses[2], &rec.Pulses[3], &rec.Pulses[4],
			&rec.WristCorrectionPulse,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		if override.Valid {
			v := override.Float64
			rec.Input.OffsetOverride = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
