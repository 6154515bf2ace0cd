// Package queue is the message-queue sink: pack records into sealed
// payloads under a byte cap, group them into transport batches of up to
// 10, and publish via SQS SendMessageBatch, whose Successful/Failed
// response shape maps directly onto the PartialFailure/TotalFailure
// contract.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cuemby/cdc-streams/internal/batch"
	"github.com/cuemby/cdc-streams/internal/cdctype"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

const Name = "queue"

// maxPayloadBytes is the per-message byte cap: the smaller of SQS's
// 256 KiB and the target's generic 1 MiB transport limit. sealPayloads
// counts the JSON array brackets and separators against it.
const maxPayloadBytes = 256 * 1024

const maxBatchSize = 10

func init() {
	mapper.Register(Name, New)
}

// MessageFormat selects which image(s) populate the logical message body.
type MessageFormat string

const (
	FormatFull     MessageFormat = "full"
	FormatNewImage MessageFormat = "new-image"
	FormatOldImage MessageFormat = "old-image"
)

// API is the subset of the SQS client this sink depends on.
type API interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Sink publishes decoded records as queue messages.
type Sink struct {
	mapper.Base
	queueAddress    string
	messageFormat   MessageFormat
	includeFields   []string
	includeMetadata bool
	delaySeconds    int32

	client API
}

// New constructs the queue sink from its options.
func New(opts mapper.Options) (mapper.Mapper, error) {
	base, err := mapper.NewBase(Name, opts)
	if err != nil {
		return nil, err
	}

	queueAddress, err := opts.String("queue-address")
	if err != nil {
		return nil, err
	}

	format := MessageFormat(opts.StringDefault("message-format", string(FormatFull)))
	switch format {
	case FormatFull, FormatNewImage, FormatOldImage:
	default:
		return nil, &cdcerrors.ConfigError{Option: "message-format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	delay, err := opts.Int("delay", 0)
	if err != nil {
		return nil, err
	}

	return &Sink{
		Base:            base,
		queueAddress:    queueAddress,
		messageFormat:   format,
		includeFields:   opts.StringListDefault("include-fields", nil),
		includeMetadata: opts.Bool("include-metadata", true),
		delaySeconds:    int32(delay),
	}, nil
}

// Initialize constructs the SQS client at most once, even when every
// shard's processor goroutine calls it concurrently on this shared
// mapper instance.
func (s *Sink) Initialize(ctx context.Context) error {
	return s.InitOnce(func() error {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		s.client = sqs.NewFromConfig(awsCfg)
		return nil
	})
}

// message is one logical message built from a record, before sealing
// into transport payloads.
type message struct {
	sequenceNumber string
	body           map[string]any
}

func (s *Sink) HandleRecords(ctx context.Context, tb *types.TargetBatch) error {
	messages := make([]message, 0, len(tb.Records))
	for _, r := range tb.Records {
		if err := cdctype.DecodeRecord(r); err != nil {
			return err
		}
		messages = append(messages, s.buildMessage(r))
	}

	payloads, err := sealPayloads(messages)
	if err != nil {
		return err
	}

	var allFailures []cdcerrors.ItemFailure
	delivered := 0

	for start := 0; start < len(payloads); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		group := payloads[start:end]

		err := batch.Retry(ctx, s.RetryCfg, s.MapperName, func() error {
			return s.sendBatch(ctx, group)
		})
		if err != nil {
			for _, p := range group {
				allFailures = append(allFailures, cdcerrors.ItemFailure{ID: p.id, Message: err.Error()})
			}
			continue
		}
		delivered += len(group)
	}

	if len(allFailures) > 0 {
		if delivered == 0 {
			metrics.BatchTotalFailures.WithLabelValues(s.MapperName).Inc()
			return cdcerrors.NewTotalFailure(len(payloads), allFailures)
		}
		metrics.BatchPartialFailures.WithLabelValues(s.MapperName).Inc()
		return cdcerrors.NewPartialFailure(len(payloads), len(allFailures), allFailures)
	}

	for _, r := range tb.Records {
		metrics.RecordsDelivered.WithLabelValues(r.ShardID, s.MapperName).Inc()
	}
	return nil
}

func (s *Sink) buildMessage(r *types.Record) message {
	body := make(map[string]any)

	switch s.messageFormat {
	case FormatNewImage:
		body = selectFields(r.NewImage, s.includeFields)
	case FormatOldImage:
		body = selectFields(r.OldImage, s.includeFields)
	default:
		body["new_image"] = selectFields(r.NewImage, s.includeFields)
		body["old_image"] = selectFields(r.OldImage, s.includeFields)
	}

	if s.includeMetadata {
		body["metadata"] = map[string]any{
			"keyspace":       "",
			"table":          "",
			"operation":      string(r.Operation),
			"timestamp":      r.ArrivalTime.UnixMilli(),
			"sequenceNumber": r.SequenceNumber,
		}
	}

	return message{sequenceNumber: r.SequenceNumber, body: body}
}

func selectFields(image map[string]any, fields []string) map[string]any {
	if image == nil {
		return map[string]any{}
	}
	if len(fields) == 0 {
		return image
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := image[f]; ok {
			out[f] = v
		}
	}
	return out
}

// payload is one sealed transport message: one or more logical
// messages packed under the byte cap.
type payload struct {
	id   string
	body []byte
}

// sqsIDChars is the character set SendMessageBatchRequestEntry.Id
// permits: alphanumeric plus hyphen and underscore. Any other rune is
// replaced with an underscore.
var sqsIDChars = func(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
		r == '-', r == '_':
		return r
	default:
		return '_'
	}
}

// payloadID derives a batch entry id from the sequence range packed
// into a payload, truncated to SQS's 80-character id limit.
func payloadID(firstSeq, lastSeq string) string {
	id := firstSeq
	if lastSeq != firstSeq {
		id = firstSeq + "-" + lastSeq
	}
	id = strings.Map(sqsIDChars, id)
	if len(id) > 80 {
		id = id[:80]
	}
	return id
}

// sealPayloads packs messages into payloads, sealing one whenever
// adding the next message would exceed maxPayloadBytes. Each payload's
// id is derived from the sequence range of the records packed into it
// (rather than an opaque uuid) so a PartialFailure/TotalFailure's
// per-item messages point back at the offending records.
func sealPayloads(messages []message) ([]payload, error) {
	var payloads []payload
	var current []map[string]any
	var currentFirstSeq, currentLastSeq string
	currentSize := 2 // "[]"

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal sealed payload: %w", err)
		}
		payloads = append(payloads, payload{id: payloadID(currentFirstSeq, currentLastSeq), body: data})
		current = nil
		currentFirstSeq, currentLastSeq = "", ""
		currentSize = 2
		return nil
	}

	for _, m := range messages {
		encoded, err := json.Marshal(m.body)
		if err != nil {
			return nil, fmt.Errorf("marshal message %s: %w", m.sequenceNumber, err)
		}

		addedSize := len(encoded) + 1 // comma separator
		if len(current) > 0 && currentSize+addedSize > maxPayloadBytes {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if len(current) == 0 {
			currentFirstSeq = m.sequenceNumber
		}
		currentLastSeq = m.sequenceNumber
		current = append(current, m.body)
		currentSize += addedSize
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return payloads, nil
}

func (s *Sink) sendBatch(ctx context.Context, group []payload) error {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, len(group))
	for i, p := range group {
		entries[i] = sqstypes.SendMessageBatchRequestEntry{
			Id:           aws.String(p.id),
			MessageBody:  aws.String(string(p.body)),
			DelaySeconds: s.delaySeconds,
		}
	}

	out, err := s.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(s.queueAddress),
		Entries:  entries,
	})
	if err != nil {
		return &cdcerrors.TransientError{Cause: fmt.Errorf("send message batch: %w", err)}
	}

	if len(out.Failed) == 0 {
		return nil
	}

	items := make([]cdcerrors.ItemFailure, 0, len(out.Failed))
	for _, f := range out.Failed {
		items = append(items, cdcerrors.ItemFailure{
			ID:      aws.ToString(f.Id),
			Code:    aws.ToString(f.Code),
			Message: aws.ToString(f.Message),
		})
	}

	if len(out.Failed) == len(group) {
		return cdcerrors.NewTotalFailure(len(group), items)
	}
	return cdcerrors.NewPartialFailure(len(group), len(out.Failed), items)
}
