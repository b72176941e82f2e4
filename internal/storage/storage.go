package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite-backed persistence for plugin options and solve history.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema. driver is
// "sqlite" (pure Go) or "sqlite3" (cgo); empty means "sqlite".
func New(driver, path string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway and :memory: needs a single conn
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plugin_options (
            profile_id TEXT NOT NULL,
            key TEXT NOT NULL,
            value TEXT NOT NULL,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (profile_id, key)
        );`,
		`CREATE TABLE IF NOT EXISTS solve_history (
            id TEXT PRIMARY KEY,
            profile_id TEXT,
            image_id TEXT,
            image_type TEXT,
            file_path TEXT,
            solver TEXT,
            outcome TEXT NOT NULL,
            ra REAL,
            dec REAL,
            pixscale REAL,
            position_angle REAL,
            flipped BOOLEAN DEFAULT FALSE,
            duration_ms INTEGER,
            error_message TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_solve_history_created_at ON solve_history(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_solve_history_outcome ON solve_history(outcome);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SolveRecord captures one persisted solve attempt.
type SolveRecord struct {
	ID            string        `json:"id"`
	ProfileID     string        `json:"profile_id"`
	ImageID       string        `json:"image_id"`
	ImageType     string        `json:"image_type"`
	FilePath      string        `json:"file_path,omitempty"`
	Solver        string        `json:"solver"`
	Outcome       string        `json:"outcome"`
	RA            float64       `json:"ra"`
	Dec           float64       `json:"dec"`
	Pixscale      float64       `json:"pixscale"`
	PositionAngle float64       `json:"position_angle"`
	Flipped       bool          `json:"flipped"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// RecordSolve inserts a solve attempt.
func (s *Store) RecordSolve(rec SolveRecord) error {
	if s == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO solve_history (id, profile_id, image_id, image_type, file_path, solver, outcome, ra, dec, pixscale, position_angle, flipped, duration_ms, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.ProfileID, rec.ImageID, rec.ImageType, rec.FilePath, rec.Solver, rec.Outcome,
		nullFloat(rec.RA), nullFloat(rec.Dec), nullFloat(rec.Pixscale), nullFloat(rec.PositionAngle),
		rec.Flipped, rec.Duration.Milliseconds(), rec.Error, rec.CreatedAt.UTC())
	return err
}

const solveColumns = `id, profile_id, image_id, image_type, file_path, solver, outcome, ra, dec, pixscale, position_angle, flipped, duration_ms, error_message, created_at`

// RecentSolves returns the latest solve attempts up to limit.
func (s *Store) RecentSolves(limit int) ([]SolveRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+solveColumns+` FROM solve_history ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SolveRecord
	for rows.Next() {
		rec, err := scanSolve(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Solve fetches a single attempt by id.
func (s *Store) Solve(id string) (SolveRecord, error) {
	if s == nil {
		return SolveRecord{}, errors.New("store not initialized")
	}
	rec, err := scanSolve(s.DB.QueryRow(`SELECT `+solveColumns+` FROM solve_history WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SolveRecord{}, fmt.Errorf("solve %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// SolveCounts returns the number of attempts per outcome.
func (s *Store) SolveCounts() (map[string]int, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT outcome, COUNT(*) FROM solve_history GROUP BY outcome;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSolve(row scanner) (SolveRecord, error) {
	var rec SolveRecord
	var filePath, solver, errorMsg sql.NullString
	var ra, dec, pixscale, pa sql.NullFloat64
	var durationMS sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.ProfileID, &rec.ImageID, &rec.ImageType, &filePath, &solver, &rec.Outcome,
		&ra, &dec, &pixscale, &pa, &rec.Flipped, &durationMS, &errorMsg, &rec.CreatedAt); err != nil {
		return SolveRecord{}, err
	}
	rec.FilePath = filePath.String
	rec.Solver = solver.String
	rec.Error = errorMsg.String
	rec.RA = ra.Float64
	rec.Dec = dec.Float64
	rec.Pixscale = pixscale.Float64
	rec.PositionAngle = pa.Float64
	rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	return rec, nil
}

// sqlite stores NaN as NULL; keep that explicit.
func nullFloat(v float64) sql.NullFloat64 {
	if v != v {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
