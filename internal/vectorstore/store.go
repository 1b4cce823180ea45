// Package vectorstore is an exact nearest-neighbour index over market pattern embeddings.
package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// Pattern types
const (
	PricePattern       = "price_pattern"
	CorrelationPattern = "correlation_pattern"
	RegimePattern      = "regime_pattern"
	TextPattern        = "text"
	AnalysisPattern    = "llm_analysis"
)

// DefaultDimension is the vector width when none is configured
const DefaultDimension = 384

// ErrEmptyVector is returned when a vector has no non-zero component
var ErrEmptyVector = errors.New("vector has zero norm")

// Pattern is one stored embedding
type Pattern struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Type      string         `json:"pattern_type"`
	Vector    []float64      `json:"vector"`
	Text      string         `json:"text,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Match is a search hit
type Match struct {
	ID         string         `json:"pattern_id"`
	Symbol     string         `json:"symbol"`
	Type       string         `json:"pattern_type"`
	Similarity float64        `json:"similarity_score"`
	Text       string         `json:"text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"timestamp"`
}

// Query filters a search; empty fields match everything
type Query struct {
	Vector  []float64
	K       int
	Type    string
	Symbols []string
}

// Stats summarises the store
type Stats struct {
	Total         int            `json:"total_patterns"`
	Types         map[string]int `json:"pattern_types"`
	UniqueSymbols int            `json:"unique_symbols"`
	Symbols       []string       `json:"symbols"`
	Dimension     int            `json:"dimension"`
	File          string         `json:"file,omitempty"`
}

// Store keeps patterns in memory, normalised to a fixed dimension
type Store struct {
	dim    int
	file   string
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	patterns []Pattern
	norms    []float64
}

// New creates an empty store persisted to file on Save
func New(dim int, file string) *Store {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Store{
		dim:    dim,
		file:   file,
		now:    time.Now,
		logger: log.With().Str("component", "vectorstore").Logger(),
	}
}

// Dimension returns the vector width
func (s *Store) Dimension() int { return s.dim }

// Fit zero-pads or truncates v to the store dimension
func (s *Store) Fit(v []float64) []float64 {
	out := make([]float64, s.dim)
	copy(out, v)
	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			out[i] = 0
		}
	}
	return out
}

// Add stores a pattern and returns its id
func (s *Store) Add(p Pattern) (string, error) {
	p.Vector = s.Fit(p.Vector)
	norm := floats.Norm(p.Vector, 2)
	if norm == 0 {
		return "", ErrEmptyVector
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.patterns = append(s.patterns, p)
	s.norms = append(s.norms, norm)
	s.mu.Unlock()
	s.logger.Debug().Str("id", p.ID).Str("symbol", p.Symbol).Str("type", p.Type).Msg("Pattern stored")
	return p.ID, nil
}

// Get returns a pattern by id
func (s *Store) Get(id string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patterns {
		if p.ID == id {
			return p, true
		}
	}
	return Pattern{}, false
}

// Search returns the K most cosine-similar patterns that pass the filters
func (s *Store) Search(q Query) ([]Match, error) {
	if q.K <= 0 {
		q.K = 5
	}
	v := s.Fit(q.Vector)
	qn := floats.Norm(v, 2)
	if qn == 0 {
		return nil, ErrEmptyVector
	}
	allowed := map[string]bool{}
	for _, sym := range q.Symbols {
		allowed[sym] = true
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.patterns))
	for i, p := range s.patterns {
		if q.Type != "" && p.Type != q.Type {
			continue
		}
		if len(allowed) > 0 && !allowed[p.Symbol] {
			continue
		}
		matches = append(matches, Match{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Type:       p.Type,
			Similarity: floats.Dot(v, p.Vector) / (qn * s.norms[i]),
			Text:       p.Text,
			Metadata:   p.Metadata,
			CreatedAt:  p.CreatedAt,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > q.K {
		matches = matches[:q.K]
	}
	return matches, nil
}

// Len returns the number of stored patterns
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Stats counts patterns by type and symbol
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.patterns), Types: map[string]int{}, Dimension: s.dim, File: s.file}
	seen := map[string]bool{}
	for _, p := range s.patterns {
		st.Types[p.Type]++
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			st.Symbols = append(st.Symbols, p.Symbol)
		}
	}
	sort.Strings(st.Symbols)
	st.UniqueSymbols = len(st.Symbols)
	return st
}

// Clear removes every pattern
func (s *Store) Clear() {
	s.mu.Lock()
	s.patterns, s.norms = nil, nil
	s.mu.Unlock()
	s.logger.Info().Msg("Vector store cleared")
}

type snapshot struct {
	Dimension int       `json:"dimension"`
	SavedAt   time.Time `json:"saved_at"`
	Patterns  []Pattern `json:"patterns"`
}

// Save writes the store to path, or to the configured file when path is empty
func (s *Store) Save(path string) error {
	if path == "" {
		path = s.file
	}
	if path == "" {
		return errors.New("no vector store file configured")
	}
	s.mu.RLock()
	b, err := json.Marshal(snapshot{Dimension: s.dim, SavedAt: s.now().UTC(), Patterns: s.patterns})
	n := len(s.patterns)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating vector store dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing vector store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.logger.Info().Int("patterns", n).Str("file", path).Msg("Vector store saved")
	return nil
}

// Load replaces the store contents with the file at path, or the configured file
func (s *Store) Load(path string) error {
	if path == "" {
		path = s.file
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading vector store: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("parsing vector store %s: %w", path, err)
	}

	patterns := make([]Pattern, 0, len(snap.Patterns))
	norms := make([]float64, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		p.Vector = s.Fit(p.Vector)
		n := floats.Norm(p.Vector, 2)
		if n == 0 {
			continue
		}
		patterns = append(patterns, p)
		norms = append(norms, n)
	}
	s.mu.Lock()
	s.patterns, s.norms = patterns, norms
	s.mu.Unlock()
	if snap.Dimension != s.dim {
		s.logger.Warn().Int("file_dimension", snap.Dimension).Int("dimension", s.dim).Msg("Vectors resized on load")
	}
	s.logger.Info().Int("patterns", len(patterns)).Str("file", path).Msg("Vector store loaded")
	return nil
}
