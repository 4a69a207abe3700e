// Package events publishes checkout events to Kafka.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var (
	_ checkout.Publisher = (*Kafka)(nil)
	_ checkout.Publisher = Nop{}
)

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes an order.settled message per settled order, keyed by cart ID
// so events of one cart keep their order.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		now: time.Now,
	}
}

func (k *Kafka) OrderSettled(ctx context.Context, o *order.Order) error {
	msg := kafka.Message{
		Key:   []byte(o.CartID),
		Value: encodeOrderSettled(o),
		Time:  k.now().UTC(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("order.settled")},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write order.settled")
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) OrderSettled(context.Context, *order.Order) error { return nil }

func encodeOrderSettled(o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("cart_id", func(e *jx.Encoder) { e.Str(o.CartID) })
		e.Field("identity", func(e *jx.Encoder) { e.Str(o.Identity) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.String()) })
		e.Field("discount_amount", func(e *jx.Encoder) { e.Str(o.DiscountAmount.String()) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.String()) })
		if o.HasDiscount() {
			e.Field("discount_id", func(e *jx.Encoder) { e.Str(o.DiscountID) })
			e.Field("discount_code", func(e *jx.Encoder) { e.Str(o.DiscountCode) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("item_id", func(e *jx.Encoder) { e.Str(l.ItemID) })
						e.Field("variant_id", func(e *jx.Encoder) { e.Str(l.VariantID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(l.UnitPrice.String()) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
