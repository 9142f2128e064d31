// Package kafka hands target-position instructions to the execution side
// over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Instruction is the wire form of a decision. TargetWeight is the signed
// portfolio fraction execution should converge to.
type Instruction struct {
	DecisionID   string               `json:"decision_id"`
	Instrument   string               `json:"instrument"`
	Action       domain.Action        `json:"action"`
	TargetWeight float64              `json:"target_weight"`
	From         domain.PositionState `json:"from"`
	To           domain.PositionState `json:"to"`
	Ratio        float64              `json:"ratio"`
	DecidedAt    time.Time            `json:"decided_at"`
}

// EncodeInstruction builds the message for d keyed by instrument so every
// instruction for one instrument lands on the same partition in order. NoOp
// decisions carry no target and are rejected.
func EncodeInstruction(d domain.Decision) (kafka.Message, error) {
	weight, ok := d.Action.TargetWeight()
	if !ok {
		return kafka.Message{}, fmt.Errorf("kafka: decision %s: action %s has no target", d.ID, d.Action)
	}
	value, err := json.Marshal(Instruction{
		DecisionID:   d.ID,
		Instrument:   d.Instrument,
		Action:       d.Action,
		TargetWeight: weight,
		From:         d.From,
		To:           d.To,
		Ratio:        d.Imbalance.Ratio,
		DecidedAt:    d.DecidedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal decision %s: %w", d.ID, err)
	}
	return kafka.Message{
		Key:   []byte(d.Instrument),
		Value: value,
		Time:  d.DecidedAt,
		Headers: []kafka.Header{
			{Key: "decision_id", Value: []byte(d.ID)},
		},
	}, nil
}

// Producer writes instructions synchronously with all-replica acks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends the instruction for d.
func (p *Producer) Publish(ctx context.Context, d domain.Decision) error {
	msg, err := EncodeInstruction(d)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish decision %s: %w", d.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
