// Package data provides historical bar storage for replaying bar series
// through the pipeline outside of live ingestion (adapted from the
// teacher's OHLCV-oriented Store to this engine's types.Bar).
package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// SymbolMetadata describes the bar range available for one symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// Store persists and serves historical bar series from JSON files on
// disk, one file per symbol, with an in-memory cache.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
}

// NewStore builds a Store rooted at dataDir, creating it if needed and
// loading any existing metadata index.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}
	return store, nil
}

// LoadBars returns symbol's bars within [start, end], reading from disk
// on first access and caching thereafter.
func (s *Store) LoadBars(symbol string, start, end time.Time) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars, ok := s.cache[symbol]
	if !ok {
		filename := filepath.Join(s.dataDir, symbol+".json")
		raw, err := os.ReadFile(filename)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read bar file: %w", err)
		}
		if err := json.Unmarshal(raw, &bars); err != nil {
			return nil, fmt.Errorf("failed to parse bar file: %w", err)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		s.cache[symbol] = bars
	}

	return filterByTimeRange(bars, start, end), nil
}

// SaveBars persists symbol's bar series to disk and updates the cache
// and metadata index.
func (s *Store) SaveBars(symbol string, bars []types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bars: %w", err)
	}
	filename := filepath.Join(s.dataDir, symbol+".json")
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write bar file: %w", err)
	}

	s.cache[symbol] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
		}
	}
	return s.saveMetadata()
}

// AvailableSymbols returns every symbol with a metadata entry.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.metadata))
	for sym := range s.metadata {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// DataRange returns the stored bar range for symbol.
func (s *Store) DataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[symbol]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
	}
	return meta.StartDate, meta.EndDate, nil
}

func filterByTimeRange(bars []types.Bar, start, end time.Time) []types.Bar {
	var filtered []types.Bar
	for _, bar := range bars {
		if (bar.Timestamp.Equal(start) || bar.Timestamp.After(start)) &&
			(bar.Timestamp.Equal(end) || bar.Timestamp.Before(end)) {
			filtered = append(filtered, bar)
		}
	}
	return filtered
}

func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

// ClearCache drops all in-memory cached bar series.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Bar)
}
