// Package store provides the shared document store all components coordinate
// through. Documents are partitioned single-writer / multi-reader; there are
// no locks and no cross-process calls, only published objects.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Content types for published documents.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeJSONL = "application/x-ndjson"
	ContentTypeCSV   = "text/csv"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the minimal contract against the shared store. All calls are
// bounded by the context deadline of the caller's cycle.
type ObjectStore interface {
	// Get returns the full object body, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes the full object body, replacing any previous version.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// List returns objects under the given key prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// GetJSON fetches an object and unmarshals it into v.
func GetJSON(ctx context.Context, s ObjectStore, key string, v interface{}) error {
	body, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and publishes it under key.
func PutJSON(ctx context.Context, s ObjectStore, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, body, ContentTypeJSON)
}

// Keys derives the document keys for the store layout. Per-strategy documents
// live under <base>/<strategy>/; the price snapshot is shared at the base.
type Keys struct {
	Base string
}

// LatestPrices is the shared price snapshot document.
func (k Keys) LatestPrices() string {
	return k.Base + "/latest_prices.json"
}

// Baseline is the strategy's daily baseline document.
func (k Keys) Baseline(strategy string) string {
	return k.Base + "/" + strategy + "/daily_baseline.json"
}

// PreExecution is the strategy's pv_pre snapshot written at anchor commit.
func (k Keys) PreExecution(strategy string) string {
	return k.Base + "/" + strategy + "/pre_execution.json"
}

// Pointer names the rebalance file currently in effect for the strategy.
func (k Keys) Pointer(strategy string) string {
	return k.Base + "/" + strategy + "/latest.json"
}

// ValuationLog is the strategy's append-only valuation log.
func (k Keys) ValuationLog(strategy string) string {
	return k.Base + "/" + strategy + "/portfolio_value_log.jsonl"
}

// RebalancePrefix is the drop prefix watched for daily rebalance files.
func (k Keys) RebalancePrefix(strategy string) string {
	return k.Base + "/" + strategy + "/"
}
