// Package vector is the vector-index sink: embed each record's text via
// an external model, then write the resulting vector plus metadata to a
// vector index. Both HTTP surfaces here are built on net/http — see
// DESIGN.md's standard-library justification section.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/cdc-streams/internal/batch"
	"github.com/cuemby/cdc-streams/internal/cdctype"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

const Name = "vector-index"

const defaultEmbeddingModel = "amazon.titan-embed-text-v2:0"

func init() {
	mapper.Register(Name, New)
}

// Sink embeds and writes records to a vector index.
type Sink struct {
	mapper.Base
	bucket         string
	indexName      string
	embeddingField string
	keyField       string
	metadataFields []string
	dimensions     int
	embeddingModel string

	httpClient    *http.Client
	indexEndpoint string
	modelEndpoint string
}

// New constructs the vector-index sink from its options.
func New(opts mapper.Options) (mapper.Mapper, error) {
	base, err := mapper.NewBase(Name, opts)
	if err != nil {
		return nil, err
	}

	bucket, err := opts.String("bucket")
	if err != nil {
		return nil, err
	}
	indexName, err := opts.String("index-name")
	if err != nil {
		return nil, err
	}
	embeddingField, err := opts.String("embedding-field")
	if err != nil {
		return nil, err
	}
	keyField, err := opts.String("key-field")
	if err != nil {
		return nil, err
	}
	dimensions, err := opts.Int("dimensions", 256)
	if err != nil {
		return nil, err
	}
	indexEndpoint, err := opts.String("index-endpoint")
	if err != nil {
		return nil, err
	}
	modelEndpoint, err := opts.String("model-endpoint")
	if err != nil {
		return nil, err
	}

	return &Sink{
		Base:           base,
		bucket:         bucket,
		indexName:      indexName,
		embeddingField: embeddingField,
		keyField:       keyField,
		metadataFields: opts.StringListDefault("metadata-fields", nil),
		dimensions:     dimensions,
		embeddingModel: opts.StringDefault("embedding-model", defaultEmbeddingModel),
		indexEndpoint:  indexEndpoint,
		modelEndpoint:  modelEndpoint,
	}, nil
}

// Initialize constructs the embedding HTTP client at most once, even
// when every shard's processor goroutine calls it concurrently on this
// shared mapper instance.
func (s *Sink) Initialize(ctx context.Context) error {
	return s.InitOnce(func() error {
		s.httpClient = &http.Client{Timeout: 30 * time.Second}
		return nil
	})
}

// vectorPoint is one decoded-and-embedded record awaiting delivery.
type vectorPoint struct {
	key      string
	vector   []float32
	metadata map[string]any
}

func (s *Sink) HandleRecords(ctx context.Context, tb *types.TargetBatch) error {
	points := make([]vectorPoint, 0, len(tb.Records))
	var failures []cdcerrors.ItemFailure

	for _, r := range tb.Records {
		if err := cdctype.DecodeRecord(r); err != nil {
			return err
		}

		text, err := s.embeddingSource(r)
		if err != nil {
			return err
		}

		vec, err := s.embed(ctx, text)
		if err != nil {
			failures = append(failures, cdcerrors.ItemFailure{ID: r.SequenceNumber, Message: err.Error()})
			continue
		}

		meta, err := s.coerceMetadata(r)
		if err != nil {
			return err
		}

		key := fmt.Sprint(r.NewImage[s.keyField])
		points = append(points, vectorPoint{key: key, vector: vec, metadata: meta})
	}

	if len(points) == 0 {
		if len(failures) > 0 {
			return cdcerrors.NewTotalFailure(len(tb.Records), failures)
		}
		return nil
	}

	err := batch.Retry(ctx, s.RetryCfg, s.MapperName, func() error {
		return s.putVectors(ctx, points)
	})
	if err != nil {
		for _, p := range points {
			failures = append(failures, cdcerrors.ItemFailure{ID: p.key, Message: err.Error()})
		}
	} else {
		for _, r := range tb.Records {
			metrics.RecordsDelivered.WithLabelValues(r.ShardID, s.MapperName).Inc()
		}
	}

	if len(failures) == len(tb.Records) {
		return cdcerrors.NewTotalFailure(len(tb.Records), failures)
	}
	if len(failures) > 0 {
		return cdcerrors.NewPartialFailure(len(tb.Records), len(failures), failures)
	}
	return nil
}

// embeddingSource selects embedding-field, falling back to key-field
// with a warning.
func (s *Sink) embeddingSource(r *types.Record) (string, error) {
	if v, ok := r.NewImage[s.embeddingField]; ok && v != nil {
		if text := fmt.Sprint(v); text != "" {
			return text, nil
		}
	}

	log.WithMapper(s.MapperName).Warn().
		Str("sequence_number", r.SequenceNumber).
		Str("embedding_field", s.embeddingField).
		Msg("embedding field empty, falling back to key field")

	if v, ok := r.NewImage[s.keyField]; ok && v != nil {
		return fmt.Sprint(v), nil
	}

	return "", &cdcerrors.ConfigError{Option: "embedding-field", Reason: "neither embedding-field nor key-field present on record"}
}

func (s *Sink) coerceMetadata(r *types.Record) (map[string]any, error) {
	meta := make(map[string]any, len(s.metadataFields))
	for _, field := range s.metadataFields {
		v, ok := r.NewImage[field]
		if !ok {
			continue
		}
		switch v.(type) {
		case string, bool, int32, int64, float32, float64:
			meta[field] = v
		default:
			return nil, &cdcerrors.UnsupportedType{Tag: fmt.Sprintf("%T", v)}
		}
	}
	return meta, nil
}

type embedRequest struct {
	Text       string `json:"text"`
	Dimensions int    `json:"dimensions"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// embed calls the embedding model with its own bounded retry for
// transient codes: throttling, unavailable, internal error, timeout,
// HTTP 502/503/504.
func (s *Sink) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	cfg := batch.DefaultRetryConfig(3)

	err := batch.Retry(ctx, cfg, s.MapperName, func() error {
		body, err := json.Marshal(embedRequest{Text: text, Dimensions: s.dimensions})
		if err != nil {
			return fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.modelEndpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return &cdcerrors.TransientError{Cause: fmt.Errorf("call embedding model: %w", err)}
		}
		defer resp.Body.Close()

		if isTransientStatus(resp.StatusCode) {
			return &cdcerrors.TransientError{Cause: fmt.Errorf("embedding model returned %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("embedding model returned %d: %s", resp.StatusCode, data)
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode embed response: %w", err)
		}
		vec = out.Vector
		return nil
	})

	return vec, err
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

type putVectorsRequest struct {
	Bucket string      `json:"bucket"`
	Index  string      `json:"index"`
	Points []wirePoint `json:"points"`
}

type wirePoint struct {
	Key      string         `json:"key"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Sink) putVectors(ctx context.Context, points []vectorPoint) error {
	wire := make([]wirePoint, len(points))
	for i, p := range points {
		wire[i] = wirePoint{Key: p.key, Vector: p.vector, Metadata: p.metadata}
	}

	body, err := json.Marshal(putVectorsRequest{Bucket: s.bucket, Index: s.indexName, Points: wire})
	if err != nil {
		return fmt.Errorf("marshal put-vectors request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.indexEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build put-vectors request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &cdcerrors.TransientError{Cause: fmt.Errorf("call vector index: %w", err)}
	}
	defer resp.Body.Close()

	if isTransientStatus(resp.StatusCode) {
		return &cdcerrors.TransientError{Cause: fmt.Errorf("vector index returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vector index returned %d: %s", resp.StatusCode, data)
	}
	return nil
}
