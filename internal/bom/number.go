package bom

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultNumberPrefix starts every BOM number.
const DefaultNumberPrefix = "BOM"

// DefaultScope is used when a document carries no company.
const DefaultScope = "default"

// SequenceAllocator hands out per-scope sequence values. Implementations must be atomic
// across processes: two calls for the same scope never return the same value.
type SequenceAllocator interface {
	Allocate(ctx context.Context, scopeKey string) (int64, error)
}

// ScopeKey is the counter key of one company on one day.
func ScopeKey(company string, at time.Time) string {
	company = strings.ToLower(strings.TrimSpace(company))
	if company == "" {
		company = DefaultScope
	}
	return company + ":" + at.Format("20060102")
}

// FormatNumber renders PREFIX/YY/MM/DD/NNNNN.
func FormatNumber(prefix string, at time.Time, seq int64) string {
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return fmt.Sprintf("%s/%s/%05d", prefix, at.Format("06/01/02"), seq)
}
