package logstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite stores records in a single table. The value column name follows
// the configured value column.
type SQLite struct {
	db     *sql.DB
	insert string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path, valueColumn string) (*SQLite, error) {
	if err := validColumn(valueColumn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:     db,
		insert: fmt.Sprintf(`INSERT INTO soil_log (timestamp_ms, raw, %s) VALUES (?, ?, ?)`, valueColumn),
	}
	if err := s.migrate(valueColumn); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate(valueColumn string) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS soil_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp_ms INTEGER NOT NULL,
		raw          INTEGER NOT NULL,
		%s           REAL
	);
	`, valueColumn)
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Append(r Record) error {
	var value sql.NullFloat64
	if v, ok := r.Value.Get(); ok {
		value = sql.NullFloat64{Float64: v, Valid: true}
	}

	if _, err := s.db.Exec(s.insert, r.TimestampMs, r.Raw, value); err != nil {
		return fmt.Errorf("insert log row: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
