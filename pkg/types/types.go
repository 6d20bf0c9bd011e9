// pkg/types/types.go

// Package types holds the strategy-agnostic result model shared by the
// extractor, the fetch strategies, the orchestrator and API callers.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartKind tells real catalog entries apart from diagnostic fallback noise.
type PartKind string

const (
	PartKindReal        PartKind = "real"
	PartKindPlaceholder PartKind = "placeholder"
)

// IsValid checks if the kind is a known value
func (k PartKind) IsValid() bool {
	return k == PartKindReal || k == PartKindPlaceholder
}

// String returns the string representation of the kind
func (k PartKind) String() string {
	return string(k)
}

// Supplier describes who sells a part.
type Supplier struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Rating   string `json:"rating,omitempty"`
}

// PartRecord is a single part row. ID is an ordinal within one result and
// carries no identity beyond it.
type PartRecord struct {
	ID             int               `json:"id"`
	Kind           PartKind          `json:"kind"`
	PartNumber     string            `json:"part_number"`
	Description    string            `json:"description"`
	Brand          string            `json:"brand,omitempty"`
	Price          float64           `json:"price"`
	Currency       string            `json:"currency,omitempty"`
	Availability   string            `json:"availability,omitempty"`
	Category       string            `json:"category,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	Compatibility  []string          `json:"compatibility,omitempty"`
	Supplier       *Supplier         `json:"supplier,omitempty"`
}

// IsPlaceholder reports whether the record is diagnostic fallback output.
func (p PartRecord) IsPlaceholder() bool {
	return p.Kind == PartKindPlaceholder
}

// VehicleInfo describes the vehicle a VIN resolved to, plus the opaque
// catalog context needed to request its parts listing.
type VehicleInfo struct {
	Make        string `json:"make,omitempty"`
	Model       string `json:"model,omitempty"`
	Year        int    `json:"year,omitempty"`
	VIN         string `json:"vin"`
	Engine      string `json:"engine,omitempty"`
	CatalogCode string `json:"catalog_code,omitempty"`
	VehicleID   string `json:"vehicle_id,omitempty"`
	SessionData string `json:"-"`
}

// SearchResult is the output of one strategy call or one orchestrated
// lookup. It is built once and not mutated afterwards.
type SearchResult struct {
	Success     bool         `json:"success"`
	Parts       []PartRecord `json:"parts"`
	TotalCount  int          `json:"total_count"`
	Page        int          `json:"page"`
	PageSize    int          `json:"page_size"`
	TotalPages  int          `json:"total_pages"`
	Vehicle     *VehicleInfo `json:"vehicle,omitempty"`
	Error       string       `json:"error,omitempty"`
	Method      string       `json:"method,omitempty"`
	Placeholder bool         `json:"placeholder,omitempty"`
	Cached      bool         `json:"cached,omitempty"`
}

// HasParts reports a successful result with at least one part.
func (r *SearchResult) HasParts() bool {
	return r != nil && r.Success && len(r.Parts) > 0
}

// NewFailure builds a failed result carrying msg.
func NewFailure(method, msg string) *SearchResult {
	return &SearchResult{
		Success: false,
		Parts:   []PartRecord{},
		Error:   msg,
		Method:  method,
	}
}

// NewSuccess builds a single-page successful result. Placeholder is set
// when every part is a placeholder record.
func NewSuccess(method string, parts []PartRecord, vehicle *VehicleInfo) *SearchResult {
	if parts == nil {
		parts = []PartRecord{}
	}
	placeholder := len(parts) > 0
	for _, p := range parts {
		if !p.IsPlaceholder() {
			placeholder = false
			break
		}
	}
	totalPages := 0
	if len(parts) > 0 {
		totalPages = 1
	}
	return &SearchResult{
		Success:     true,
		Parts:       parts,
		TotalCount:  len(parts),
		Page:        1,
		PageSize:    len(parts),
		TotalPages:  totalPages,
		Vehicle:     vehicle,
		Method:      method,
		Placeholder: placeholder,
	}
}

// Duration represents a time duration with JSON marshaling support
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %s", s)
	}

	*d = Duration(duration)
	return nil
}

// String returns the string representation of the duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ToDuration converts to standard time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
