// Package reports handles uploaded medical reports: text extraction, local
// persistence under the reports directory, and exposure of the extracted
// text to the retrieval index. Raw files never leave the device.
package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/rag"
)

// ErrNotFound is returned when a report id is not in the index.
var ErrNotFound = errors.New("report not found")

const indexFilename = "reports_index.json"

// Report is the stored metadata for one uploaded report, including the
// extracted text.
type Report struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	FileType      string `json:"file_type"`
	UploadedAt    string `json:"uploaded_at"`
	ExtractedText string `json:"extracted_text"`
	CharCount     int    `json:"char_count"`
	WordCount     int    `json:"word_count"`
}

// Summary is the listing form of a report: metadata without the text body.
type Summary struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	UploadedAt string `json:"uploaded_at"`
	WordCount  int    `json:"word_count"`
}

// IngestResult acknowledges a processed upload.
type IngestResult struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	CharCount int    `json:"char_count"`
	WordCount int    `json:"word_count"`
	Status    string `json:"status"`
}

// Store owns the reports directory: raw uploads as <id><ext> plus a single
// JSON index. Mutations serialize on one mutex; the index file is replaced
// atomically.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu       sync.Mutex
	reports  []Report
	onChange func()
}

// NewStore opens the reports directory and loads the existing index.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: log.With().Str("component", "reports").Logger(),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	s.logger.Info().Str("dir", dir).Int("reports", len(s.reports)).Msg("Report store ready")
	return s, nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFilename))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read reports index: %w", err)
	}
	if err := json.Unmarshal(data, &s.reports); err != nil {
		return fmt.Errorf("failed to parse reports index: %w", err)
	}
	return nil
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode reports index: %w", err)
	}

	path := filepath.Join(s.dir, indexFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write reports index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace reports index: %w", err)
	}
	return nil
}

// SetOnChange registers a callback invoked after every successful ingest or
// delete. The retrieval engine hooks its rebuild here.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Ingest extracts text from an uploaded file, persists the raw bytes and
// metadata, and triggers the change callback.
func (s *Store) Ingest(filename string, data []byte) (IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	text := ExtractText(filename, data)

	u := uuid.New()
	report := Report{
		ID:            fmt.Sprintf("report_%x", u[:4]),
		Filename:      filename,
		FileType:      ext,
		UploadedAt:    time.Now().UTC().Format(time.RFC3339),
		ExtractedText: text,
		CharCount:     utf8.RuneCountInString(text),
		WordCount:     len(strings.Fields(text)),
	}

	s.mu.Lock()
	rawPath := filepath.Join(s.dir, report.ID+ext)
	if err := os.WriteFile(rawPath, data, 0o644); err != nil {
		s.mu.Unlock()
		return IngestResult{}, fmt.Errorf("failed to store raw report: %w", err)
	}
	s.reports = append(s.reports, report)
	if err := s.saveIndexLocked(); err != nil {
		// Roll the in-memory append back so the index stays consistent.
		s.reports = s.reports[:len(s.reports)-1]
		os.Remove(rawPath)
		s.mu.Unlock()
		return IngestResult{}, err
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("id", report.ID).
		Str("filename", filename).
		Int("words", report.WordCount).
		Msg("Processed report upload")

	s.notifyChange()

	return IngestResult{
		ID:        report.ID,
		Filename:  report.Filename,
		CharCount: report.CharCount,
		WordCount: report.WordCount,
		Status:    "processed",
	}, nil
}

// List returns metadata for all reports, oldest first, without text bodies.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, Summary{
			ID:         r.ID,
			Filename:   r.Filename,
			FileType:   r.FileType,
			UploadedAt: r.UploadedAt,
			WordCount:  r.WordCount,
		})
	}
	return out
}

// Text returns the extracted text of one report.
func (s *Store) Text(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reports {
		if r.ID == id {
			return r.ExtractedText, nil
		}
	}
	return "", ErrNotFound
}

// Get returns the full stored report.
func (s *Store) Get(id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reports {
		if r.ID == id {
			copied := r
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes a report's index entry and raw files. It reports whether
// the id existed; deleting an unknown id is a no-op.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()

	kept := s.reports[:0]
	existed := false
	for _, r := range s.reports {
		if r.ID == id {
			existed = true
			continue
		}
		kept = append(kept, r)
	}
	if !existed {
		s.mu.Unlock()
		return false, nil
	}
	s.reports = kept
	if err := s.saveIndexLocked(); err != nil {
		s.mu.Unlock()
		return true, err
	}

	matches, _ := filepath.Glob(filepath.Join(s.dir, id+"*"))
	for _, m := range matches {
		os.Remove(m)
	}
	s.mu.Unlock()

	s.logger.Info().Str("id", id).Msg("Deleted report")
	s.notifyChange()
	return true, nil
}

// Documents exposes all reports to the retrieval engine.
func (s *Store) Documents() []rag.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]rag.Document, 0, len(s.reports))
	for _, r := range s.reports {
		docs = append(docs, rag.Document{
			ID:      r.ID,
			Topic:   r.Filename,
			Source:  "user_upload",
			Content: r.ExtractedText,
			Type:    rag.TypeUserReport,
		})
	}
	return docs
}
