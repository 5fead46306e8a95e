// Package federated implements DP-FedAvg: it buffers differentially-private
// client adapter updates and publishes versioned global adapters once enough
// clients have contributed.
package federated

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/dp"
)

// ErrWrongDimension rejects updates whose length does not match the
// configured adapter dimension.
var ErrWrongDimension = errors.New("wrong update dimension")

// PendingUpdate is one buffered client update after server-side DP.
type PendingUpdate struct {
	ClientID   string
	Update     []float64
	ReceivedAt time.Time
}

// Adapter is a published global adapter version as persisted on disk.
// Timestamp is unix seconds.
type Adapter struct {
	Version    int       `json:"version"`
	NumClients int       `json:"num_clients"`
	Timestamp  float64   `json:"timestamp"`
	Adapter    []float64 `json:"adapter"`
}

// Receipt acknowledges an accepted client update.
type Receipt struct {
	Status       string `json:"status"`
	PendingCount int    `json:"pending_count"`
	Message      string `json:"message"`
}

// Aggregation summarizes one completed aggregation round.
type Aggregation struct {
	Status      string `json:"status"`
	Version     int    `json:"version"`
	NumClients  int    `json:"num_clients"`
	AdapterPath string `json:"adapter_path"`
}

// Status is a point-in-time aggregator snapshot.
type Status struct {
	CurrentVersion int    `json:"current_version"`
	PendingUpdates int    `json:"pending_updates"`
	AdapterStore   string `json:"adapter_store"`
}

// Aggregator owns the pending-update buffer and the version counter. One
// mutex serializes both, so Receive never observes a partially cleared
// buffer.
type Aggregator struct {
	dim             int
	clipNorm        float64
	noiseMultiplier float64
	storeDir        string
	processor       *dp.Processor
	logger          zerolog.Logger

	mu      sync.Mutex
	pending []PendingUpdate
	version int
}

// New creates an aggregator over the given adapter store directory. The
// current version is recovered as the highest adapter_v<N>.json already on
// disk; stale temp files from interrupted publications are removed.
func New(dim int, clipNorm, noiseMultiplier float64, storeDir string, processor *dp.Processor) (*Aggregator, error) {
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create adapter store: %w", err)
	}

	a := &Aggregator{
		dim:             dim,
		clipNorm:        clipNorm,
		noiseMultiplier: noiseMultiplier,
		storeDir:        storeDir,
		processor:       processor,
		logger:          log.With().Str("component", "federated").Logger(),
	}

	version, err := a.recoverVersion()
	if err != nil {
		return nil, err
	}
	a.version = version
	getMetrics().setVersion(version)

	a.logger.Info().
		Int("adapter_dim", dim).
		Int("current_version", version).
		Str("store", storeDir).
		Msg("Federated aggregator ready")
	return a, nil
}

func (a *Aggregator) recoverVersion() (int, error) {
	entries, err := os.ReadDir(a.storeDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read adapter store: %w", err)
	}

	maxVersion := 0
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			// Leftover from an interrupted publication.
			if err := os.Remove(filepath.Join(a.storeDir, name)); err == nil {
				a.logger.Warn().Str("file", name).Msg("Removed stale adapter temp file")
			}
			continue
		}
		if v, ok := parseAdapterVersion(name); ok && v > maxVersion {
			maxVersion = v
		}
	}
	return maxVersion, nil
}

func parseAdapterVersion(name string) (int, bool) {
	rest, found := strings.CutPrefix(name, "adapter_v")
	if !found {
		return 0, false
	}
	rest, found = strings.CutSuffix(rest, ".json")
	if !found {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func (a *Aggregator) adapterPath(version int) string {
	return filepath.Join(a.storeDir, fmt.Sprintf("adapter_v%d.json", version))
}

// Receive validates, DP-processes, and buffers one client update. A
// wrong-dimension or non-finite vector is rejected without touching the
// buffer.
func (a *Aggregator) Receive(clientID string, vector []float64) (Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !dp.Validate(vector, a.dim) {
		getMetrics().recordUpdate(updateRejected)
		return Receipt{}, fmt.Errorf("expected %d-dim update: %w", a.dim, ErrWrongDimension)
	}

	noised := a.processor.Apply(vector, a.clipNorm, a.noiseMultiplier)
	a.pending = append(a.pending, PendingUpdate{
		ClientID:   clientID,
		Update:     noised,
		ReceivedAt: time.Now(),
	})
	getMetrics().recordUpdate(updateAccepted)
	getMetrics().setPending(len(a.pending))

	a.logger.Debug().
		Str("client_id", clientID).
		Int("pending", len(a.pending)).
		Msg("Buffered federated update")

	return Receipt{
		Status:       "accepted",
		PendingCount: len(a.pending),
		Message:      "Update received and DP-processed.",
	}, nil
}

// MaybeAggregate averages the pending buffer into a new adapter version once
// minClients updates are buffered. Below threshold it returns (nil, nil).
// The version increment and buffer clear happen only after the adapter file
// is durably on disk.
func (a *Aggregator) MaybeAggregate(minClients int) (*Aggregation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) < minClients {
		return nil, nil
	}

	mean := make([]float64, a.dim)
	for _, u := range a.pending {
		for i, x := range u.Update {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float64(len(a.pending))
	}

	next := a.version + 1
	adapter := Adapter{
		Version:    next,
		NumClients: len(a.pending),
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
		Adapter:    mean,
	}
	data, err := json.Marshal(adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode adapter: %w", err)
	}

	path := a.adapterPath(next)
	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("failed to persist adapter v%d: %w", next, err)
	}

	a.version = next
	a.pending = a.pending[:0]
	getMetrics().recordAggregation(next, 0)

	a.logger.Info().
		Int("version", next).
		Int("num_clients", adapter.NumClients).
		Str("path", path).
		Msg("Published global adapter")

	return &Aggregation{
		Status:      "aggregated",
		Version:     next,
		NumClients:  adapter.NumClients,
		AdapterPath: path,
	}, nil
}

// Latest loads the most recently published adapter, or (nil, nil) when no
// aggregation has happened yet.
func (a *Aggregator) Latest() (*Adapter, error) {
	a.mu.Lock()
	version := a.version
	a.mu.Unlock()

	if version == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(a.adapterPath(version))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read adapter v%d: %w", version, err)
	}

	var adapter Adapter
	if err := json.Unmarshal(data, &adapter); err != nil {
		return nil, fmt.Errorf("failed to decode adapter v%d: %w", version, err)
	}
	return &adapter, nil
}

// Status reports the version, buffer depth, and store location.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		CurrentVersion: a.version,
		PendingUpdates: len(a.pending),
		AdapterStore:   a.storeDir,
	}
}

// Versions lists the published adapter versions on disk in ascending order.
func (a *Aggregator) Versions() ([]int, error) {
	entries, err := os.ReadDir(a.storeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read adapter store: %w", err)
	}
	var versions []int
	for _, entry := range entries {
		if v, ok := parseAdapterVersion(entry.Name()); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

// writeFileAtomic publishes data at path via a same-directory temp file,
// fsync, and rename, so readers never observe a partial file and a crash
// leaves only a .tmp behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
