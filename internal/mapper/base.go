package mapper

import (
	"sync"

	"github.com/cuemby/cdc-streams/internal/batch"
	"github.com/cuemby/cdc-streams/internal/filter"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// Base carries the cross-sink options common to every mapper:
// max-retries, an optional filter expression, and region. Concrete
// sinks embed Base and get FilterRecords for free; per-sink structs
// still implement Initialize/HandleRecords/Name themselves, following
// composition rather than inheritance.
type Base struct {
	MapperName string
	Region     string
	RetryCfg   batch.RetryConfig
	filter     *filter.Filter

	initOnce sync.Once
	initErr  error
}

// InitOnce runs fn at most once for this mapper instance, however many
// shard goroutines call it concurrently; every caller, including ones
// that arrive after the first call returns, observes the same result.
// Sinks use this to guard lazy client construction, since the scheduler
// shares one mapper across every shard it owns.
func (b *Base) InitOnce(fn func() error) error {
	b.initOnce.Do(func() {
		b.initErr = fn()
	})
	return b.initErr
}

// NewBase parses the cross-sink options shared by every mapper.
func NewBase(name string, opts Options) (Base, error) {
	maxRetries, err := opts.Int("max-retries", 3)
	if err != nil {
		return Base{}, err
	}

	b := Base{
		MapperName: name,
		Region:     opts.StringDefault("region", ""),
		RetryCfg:   batch.DefaultRetryConfig(maxRetries),
	}

	if expr := opts.StringDefault("filter-expression", ""); expr != "" {
		f, err := filter.Compile(expr)
		if err != nil {
			return Base{}, err
		}
		b.filter = f
	}

	return b, nil
}

func (b Base) Name() string { return b.MapperName }

// FilterRecords is the default filter_records implementation: apply
// the configured expression if present, else pass through unchanged.
func (b Base) FilterRecords(records []*types.Record) []*types.Record {
	if b.filter == nil {
		return records
	}

	out := make([]*types.Record, 0, len(records))
	for _, r := range records {
		include, err := b.filter.Evaluate(r)
		if err != nil || !include {
			metrics.RecordsFiltered.WithLabelValues(r.ShardID).Inc()
			continue
		}
		out = append(out, r)
	}
	return out
}
