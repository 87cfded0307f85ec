// Package publish streams persisted operations to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// Publisher receives the rows of every block after they are persisted.
type Publisher interface {
	Publish(ctx context.Context, block int64, rows *domain.BlockRows) error
	Close() error
}

// Noop discards everything.
type Noop struct{}

var _ Publisher = Noop{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, int64, *domain.BlockRows) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// Leg is one swap leg of a published operation.
type Leg struct {
	PairID     int64           `json:"pair_id"`
	FromAmount decimal.Decimal `json:"from_amount"`
	ToAmount   decimal.Decimal `json:"to_amount"`
}

// Event is the message body of one operation.
type Event struct {
	OpID          string           `json:"op_id"`
	Kind          domain.OpKind    `json:"kind"`
	Block         int64            `json:"block"`
	Timestamp     int64            `json:"timestamp"`
	FeePaid       decimal.Decimal  `json:"fee_paid"`
	DexID         *int             `json:"dex_id,omitempty"`
	FilterMode    string           `json:"filter_mode,omitempty"`
	SwapFee       *decimal.Decimal `json:"swap_fee,omitempty"`
	Legs          []Leg            `json:"legs,omitempty"`
	AssetA        domain.AssetID   `json:"asset_a,omitempty"`
	AssetB        domain.AssetID   `json:"asset_b,omitempty"`
	AmountA       *decimal.Decimal `json:"amount_a,omitempty"`
	AmountB       *decimal.Decimal `json:"amount_b,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	ReferenceType string           `json:"reference_type,omitempty"`
}

// Events converts block rows into one event per operation. Swap legs are
// folded into the event of their operation.
func Events(rows *domain.BlockRows) []*Event {
	var events []*Event
	swaps := make(map[string]*Event)
	for _, r := range rows.Swaps {
		ev, ok := swaps[r.OpID]
		if !ok {
			dex := r.DexID
			ev = &Event{
				OpID:       r.OpID,
				Kind:       domain.KindSwap,
				Block:      r.Block,
				Timestamp:  r.Timestamp,
				FeePaid:    decimal.Zero,
				DexID:      &dex,
				FilterMode: r.FilterMode,
			}
			swaps[r.OpID] = ev
			events = append(events, ev)
		}
		ev.FeePaid = ev.FeePaid.Add(r.FeePaid)
		if r.SwapFee != nil {
			ev.SwapFee = r.SwapFee
		}
		ev.Legs = append(ev.Legs, Leg{PairID: r.PairID, FromAmount: r.FromAmount, ToAmount: r.ToAmount})
	}

	for _, r := range rows.Operations {
		ev := &Event{
			OpID:          r.OpID,
			Kind:          r.Kind,
			Block:         r.Block,
			Timestamp:     r.Timestamp,
			FeePaid:       r.FeePaid,
			AssetA:        r.AssetA,
			AssetB:        r.AssetB,
			Reference:     r.Reference,
			ReferenceType: r.ReferenceType,
		}
		if r.AssetA != "" || !r.AmountA.IsZero() {
			a := r.AmountA
			ev.AmountA = &a
		}
		if r.AssetB != "" {
			b := r.AmountB
			ev.AmountB = &b
		}
		events = append(events, ev)
	}

	amounts := func(kind domain.OpKind, list []*domain.TokenAmountRow) {
		for _, r := range list {
			a := r.Amount
			events = append(events, &Event{
				OpID:      r.OpID,
				Kind:      kind,
				Block:     r.Block,
				Timestamp: r.Timestamp,
				FeePaid:   decimal.Zero,
				AssetA:    r.Asset,
				AmountA:   &a,
			})
		}
	}
	amounts(domain.KindBurn, rows.Burns)
	amounts(domain.KindBuyBack, rows.BuyBacks)
	return events
}

// KafkaConfig holds Kafka connection configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per operation, keyed by operation id.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the configured topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: writer, now: time.Now}
}

// Publish implements Publisher. A block without operations sends nothing.
func (p *KafkaPublisher) Publish(ctx context.Context, block int64, rows *domain.BlockRows) error {
	events := Events(rows)
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal operation %s: %w", ev.OpID, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(ev.OpID),
			Value: data,
			Time:  p.now(),
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish block %d: %w", block, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
