package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// AMQPFeed consumes per-conversation change events from a topic
// exchange, routing key "messages.<conversationID>". Each subscription
// gets its own exclusive auto-delete queue, so every open session sees
// every event for its conversation.
type AMQPFeed struct {
	url      string
	exchange string
}

// NewAMQPFeed builds an AMQP-backed feed. Connections are opened per
// subscription so a dropped broker only fails the sessions using it.
func NewAMQPFeed(url, exchange string) *AMQPFeed {
	return &AMQPFeed{url: url, exchange: exchange}
}

// Subscribe binds a fresh queue for the conversation and starts
// consuming. The subscription ends when the context is cancelled or the
// broker closes the delivery channel.
func (f *AMQPFeed) Subscribe(ctx context.Context, conversationID int64) (*Subscription, error) {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	if err := ch.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	routingKey := fmt.Sprintf("messages.%d", conversationID)
	if err := ch.QueueBind(queue.Name, routingKey, f.exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)

	observability.IncWSActive("feed")
	go f.consumeLoop(ctx, conversationID, conn, ch, deliveries, sub)
	return sub, nil
}

func (f *AMQPFeed) consumeLoop(ctx context.Context, conversationID int64, conn *amqp.Connection, ch *amqp.Channel, deliveries <-chan amqp.Delivery, sub *Subscription) {
	defer observability.DecWSActive("feed")
	defer conn.Close()
	defer ch.Close()

	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					sub.finish(nil)
					return
				}
				sub.finish(fmt.Errorf("feed channel closed for conversation %d", conversationID))
				return
			}

			var ev models.Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Printf("feed: dropping malformed event for conversation %d: %v", conversationID, err)
				continue
			}
			sub.deliver(ev)
		}
	}
}
