// Package hospital is the local SQLite store for anonymized consultation
// records, report records, and the federated contribution log. All rows stay
// on device; symptom text is stored only as a hash.
package hospital

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record id has no row.
var ErrNotFound = errors.New("record not found")

// Fixed-width so TEXT timestamps sort chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one medical_records row.
type Record struct {
	ID             string  `json:"id"`
	RecordType     string  `json:"record_type"`
	Category       string  `json:"category"`
	Severity       string  `json:"severity"`
	SymptomsHash   string  `json:"symptoms_hash"`
	CouncilSummary string  `json:"council_summary"`
	Confidence     float64 `json:"confidence"`
	Timestamp      string  `json:"timestamp"`
	Metadata       string  `json:"metadata"`
}

// Stats summarizes store contents for the stats and health endpoints.
type Stats struct {
	TotalRecords        int `json:"total_records"`
	Consultations       int `json:"consultations"`
	Reports             int `json:"reports"`
	Contributions       int `json:"federated_contributions"`
	PendingAggregations int `json:"pending_aggregations"`
}

// Store wraps the SQLite database. Safe for concurrent use; the pool is
// capped at one connection, which is how SQLite behaves best with a single
// writer.
type Store struct {
	db *sql.DB
}

// Open creates or opens the hospital database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hospital db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open hospital database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize hospital schema: %w", err)
	}

	log.Info().Str("component", "hospital").Str("path", path).Msg("Hospital store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS medical_records (
			id TEXT PRIMARY KEY,
			record_type TEXT NOT NULL,
			category TEXT,
			severity TEXT,
			symptoms_hash TEXT,
			council_summary TEXT,
			confidence REAL,
			timestamp TEXT NOT NULL,
			metadata TEXT
		);

		CREATE TABLE IF NOT EXISTS report_embeddings (
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding_vector BLOB,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (report_id) REFERENCES medical_records(id)
		);

		CREATE TABLE IF NOT EXISTS federated_contributions (
			id TEXT PRIMARY KEY,
			record_id TEXT,
			gradient_hash TEXT,
			dp_noise_level REAL,
			contributed_at TEXT NOT NULL,
			aggregation_round INTEGER,
			status TEXT DEFAULT 'pending',
			FOREIGN KEY (record_id) REFERENCES medical_records(id)
		);

		CREATE INDEX IF NOT EXISTS idx_records_category ON medical_records(category);
		CREATE INDEX IF NOT EXISTS idx_records_timestamp ON medical_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_contributions_status ON federated_contributions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, u[:4])
}

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// StoreConsultation inserts an anonymized consultation record and returns
// its generated id.
func (s *Store) StoreConsultation(category, severity, symptomsHash, councilSummary string, confidence float64, metadata map[string]any) (string, error) {
	id := newID("cons")
	_, err := s.db.Exec(
		`INSERT INTO medical_records
		 (id, record_type, category, severity, symptoms_hash, council_summary, confidence, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, "consultation", category, severity, symptomsHash, councilSummary, confidence, now(), marshalMetadata(metadata),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store consultation: %w", err)
	}
	return id, nil
}

// StoreReportRecord upserts the record row for an uploaded report, keyed by
// the report id.
func (s *Store) StoreReportRecord(reportID, category, summary string, metadata map[string]any) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO medical_records
		 (id, record_type, category, severity, symptoms_hash, council_summary, confidence, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reportID, "report", category, "n/a", "", summary, 0.0, now(), marshalMetadata(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to store report record: %w", err)
	}
	return nil
}

// StoreReportEmbedding inserts one text chunk row for a report. The vector
// may be nil when only the chunk text is kept.
func (s *Store) StoreReportEmbedding(reportID string, chunkIndex int, chunkText string, vector []byte) (string, error) {
	id := newID("emb")
	_, err := s.db.Exec(
		`INSERT INTO report_embeddings (id, report_id, chunk_index, chunk_text, embedding_vector, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, reportID, chunkIndex, chunkText, vector, now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store report embedding: %w", err)
	}
	return id, nil
}

// LogContribution records one federated client update in the contribution
// log and returns the generated id.
func (s *Store) LogContribution(recordID, gradientHash string, dpNoiseLevel float64, aggregationRound int) (string, error) {
	id := newID("fed")
	_, err := s.db.Exec(
		`INSERT INTO federated_contributions
		 (id, record_id, gradient_hash, dp_noise_level, contributed_at, aggregation_round, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, recordID, gradientHash, dpNoiseLevel, now(), aggregationRound, "pending",
	)
	if err != nil {
		return "", fmt.Errorf("failed to log contribution: %w", err)
	}
	return id, nil
}

// MarkContributionsAggregated stamps all pending contributions with the
// aggregation round that consumed them. Returns the number of rows updated.
func (s *Store) MarkContributionsAggregated(round int) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE federated_contributions SET status = 'aggregated', aggregation_round = ? WHERE status = 'pending'`,
		round,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark contributions aggregated: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Records returns the most recent records, optionally filtered by type.
func (s *Store) Records(recordType string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if recordType != "" {
		rows, err = s.db.Query(
			`SELECT id, record_type, category, severity, symptoms_hash, council_summary, confidence, timestamp, metadata
			 FROM medical_records WHERE record_type = ? ORDER BY timestamp DESC LIMIT ?`,
			recordType, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, record_type, category, severity, symptoms_hash, council_summary, confidence, timestamp, metadata
			 FROM medical_records ORDER BY timestamp DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RecordType, &r.Category, &r.Severity, &r.SymptomsHash,
			&r.CouncilSummary, &r.Confidence, &r.Timestamp, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordByID fetches one record or ErrNotFound.
func (s *Store) RecordByID(id string) (*Record, error) {
	var r Record
	err := s.db.QueryRow(
		`SELECT id, record_type, category, severity, symptoms_hash, council_summary, confidence, timestamp, metadata
		 FROM medical_records WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.RecordType, &r.Category, &r.Severity, &r.SymptomsHash,
		&r.CouncilSummary, &r.Confidence, &r.Timestamp, &r.Metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	return &r, nil
}

// Stats counts rows for the stats and health endpoints.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	queries := []struct {
		dest  *int
		query string
	}{
		{&st.TotalRecords, `SELECT COUNT(*) FROM medical_records`},
		{&st.Consultations, `SELECT COUNT(*) FROM medical_records WHERE record_type = 'consultation'`},
		{&st.Reports, `SELECT COUNT(*) FROM medical_records WHERE record_type = 'report'`},
		{&st.Contributions, `SELECT COUNT(*) FROM federated_contributions`},
		{&st.PendingAggregations, `SELECT COUNT(*) FROM federated_contributions WHERE status = 'pending'`},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("failed to count rows: %w", err)
		}
	}
	return st, nil
}
