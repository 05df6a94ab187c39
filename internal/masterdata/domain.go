// Package masterdata mirrors the read-only reference datasets of the
// commerce API (settings, countries, warehouses, categories, payment
// methods, units) into the local store.
package masterdata

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownDataset is returned for names no Dataset is registered under.
var ErrUnknownDataset = errors.New("unknown reference dataset")

// Column maps one table column from the first present remote field.
type Column struct {
	Name   string
	Fields []string
}

// Dataset describes one reference endpoint and where it is cached. A
// dataset either fills Table with one row per remote record or, when
// SettingKey is set, stores the whole payload as JSON in settings.
type Dataset struct {
	Name       string
	Endpoint   string
	Table      string
	SettingKey string
	Columns    []Column
	// Paths are the candidate envelope locations of the payload, in order.
	Paths []string
	// Defaults are seeded while the table is empty.
	Defaults []Item
}

// Singleton reports whether the dataset is a settings document.
func (d Dataset) Singleton() bool {
	return d.SettingKey != ""
}

// Item is one cached reference record.
type Item struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
	Raw    json.RawMessage   `json:"raw,omitempty"`
}

// Snapshot is what the local store holds for a dataset.
type Snapshot struct {
	Dataset   string          `json:"dataset"`
	Items     []Item          `json:"items,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
}

// FetchResult reports one fetch-and-save run.
type FetchResult struct {
	Dataset string `json:"dataset"`
	// Saved is the number of records written. Zero means the cache was kept.
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
	Kept    bool   `json:"kept_cache"`
	Error   string `json:"error,omitempty"`
}
