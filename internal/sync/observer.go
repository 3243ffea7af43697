package sync

import (
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

// Observer receives pipeline events. Implementations must not block; the
// pipeline calls them inline.
type Observer interface {
	BatchIndexed(BatchEvent)
	WatermarkAdvanced(WatermarkEvent)
	PollComplete(PollEvent)
	RebuildComplete(RebuildEvent)
}

// BatchEvent reports one successful bulk upsert.
type BatchEvent struct {
	Table      catalog.Table `json:"table"`
	Collection string        `json:"collection"`
	Documents  int           `json:"documents"`
}

// WatermarkEvent reports a persisted watermark.
type WatermarkEvent struct {
	Table     catalog.Table `json:"table"`
	Watermark time.Time     `json:"watermark"`
}

// PollEvent summarizes one pass over the watched tables.
type PollEvent struct {
	Changes  map[catalog.Table]int `json:"changes"`
	Skipped  []catalog.Table       `json:"skipped,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// RebuildEvent summarizes a full rebuild.
type RebuildEvent struct {
	Documents map[string]int `json:"documents"`
	Watermark time.Time      `json:"watermark"`
	Duration  time.Duration  `json:"duration"`
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) BatchIndexed(BatchEvent)           {}
func (NopObserver) WatermarkAdvanced(WatermarkEvent) {}
func (NopObserver) PollComplete(PollEvent)           {}
func (NopObserver) RebuildComplete(RebuildEvent)     {}
