package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/store"
)

// MappingMatchThreshold is the minimum header overlap for a saved mapping
// to be suggested.
const MappingMatchThreshold = 0.7

// MappingStore persists saved column mappings.
type MappingStore interface {
	SaveMapping(ctx context.Context, m store.SavedMapping) (store.SavedMapping, error)
	ListMappings(ctx context.Context, supplierID int64) ([]store.SavedMapping, error)
	DeleteMapping(ctx context.Context, id uuid.UUID) error
}

// MappingMatch is a saved mapping scored against a file's headers.
type MappingMatch struct {
	Mapping store.SavedMapping `json:"mapping"`
	Score   float64            `json:"score"`

	// Complete is true when every required field maps to a header the file has.
	Complete bool `json:"complete"`
}

var errMappingsDisabled = fmt.Errorf("%w: saved mappings are not configured", ErrInvalidRequest)

// SaveMapping stores m for a supplier under name. Unknown canonical fields
// are rejected.
func (s *Service) SaveMapping(ctx context.Context, supplierID int64, name string, m mapping.Mapping, headers []string) (store.SavedMapping, error) {
	if s.mappings == nil {
		return store.SavedMapping{}, errMappingsDisabled
	}
	if _, err := s.GetSupplier(ctx, supplierID); err != nil {
		return store.SavedMapping{}, err
	}
	if strings.TrimSpace(name) == "" {
		return store.SavedMapping{}, fmt.Errorf("%w: mapping name is required", ErrInvalidRequest)
	}

	saved, err := s.mappings.SaveMapping(ctx, store.SavedMapping{
		SupplierID: supplierID,
		Name:       name,
		Mapping:    m.Wire(),
		Headers:    headers,
	})
	if err != nil {
		return store.SavedMapping{}, err
	}
	s.logger.Info("mapping saved", "supplier_id", supplierID, "name", saved.Name, "mapping_id", saved.ID)
	return saved, nil
}

// ListMappings returns a supplier's saved mappings.
func (s *Service) ListMappings(ctx context.Context, supplierID int64) ([]store.SavedMapping, error) {
	if s.mappings == nil {
		return []store.SavedMapping{}, nil
	}
	if _, err := s.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.mappings.ListMappings(ctx, supplierID)
}

// DeleteMapping removes a saved mapping.
func (s *Service) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	if s.mappings == nil {
		return errMappingsDisabled
	}
	return s.mappings.DeleteMapping(ctx, id)
}

// MatchMappings returns the supplier's saved mappings whose headers overlap
// headers by at least MappingMatchThreshold, best first.
func (s *Service) MatchMappings(ctx context.Context, supplierID int64, headers []string) ([]MappingMatch, error) {
	saved, err := s.ListMappings(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	matches := []MappingMatch{}
	for _, m := range saved {
		score := matchHeaders(headers, m.Headers)
		if score < MappingMatchThreshold {
			continue
		}
		parsed, err := mapping.Parse(m.Mapping)
		complete := err == nil && mapping.Verify(headers, parsed) == nil
		matches = append(matches, MappingMatch{Mapping: m, Score: score, Complete: complete})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Complete != matches[j].Complete {
			return matches[i].Complete
		}
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// matchHeaders is the share of saved headers present in headers, compared
// case-insensitively after trimming.
func matchHeaders(headers, saved []string) float64 {
	if len(saved) == 0 {
		return 0
	}

	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, h := range saved {
		if have[strings.ToLower(strings.TrimSpace(h))] {
			matched++
		}
	}
	return float64(matched) / float64(len(saved))
}
