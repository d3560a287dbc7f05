package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// ListingEvent is the JSON body published for each announced listing.
type ListingEvent struct {
	Event       string       `json:"event"`
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	URL         string       `json:"url"`
	Address     string       `json:"address"`
	PriceText   string       `json:"price"`
	PriceAmount *int         `json:"price_amount,omitempty"`
	AreaTsubo   *float64     `json:"area_tsubo,omitempty"`
	Station     string       `json:"nearest_station"`
	Score       models.Score `json:"score"`
	ScrapedAt   time.Time    `json:"scraped_at"`
}

// channel is the part of *amqp.Channel the notifier uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes announced listings to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *utils.Logger
}

// NewAMQPNotifier dials url and declares a durable topic exchange.
func NewAMQPNotifier(url, exchange string, logger *utils.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %q: %w", exchange, err)
	}

	logger.Info("[notify] Publishing to exchange %q", exchange)
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Notify publishes one persistent message per announcement. It stops at the
// first publish error.
func (n *AMQPNotifier) Notify(ctx context.Context, announcements []models.Announcement) error {
	for _, a := range announcements {
		l := a.Listing
		msg, err := newPublishing(a)
		if err != nil {
			return err
		}
		if err := n.ch.PublishWithContext(ctx, n.exchange, routingKey(a), false, false, msg); err != nil {
			return fmt.Errorf("notify: publish %s: %w", l.ID, err)
		}
		n.logger.Debug("[notify] Published %s (%s, %s)", l.ID, l.Score.Grade, eventName(a))
	}
	return nil
}

// Close closes the channel and the connection.
func (n *AMQPNotifier) Close() error {
	var firstErr error
	if n.ch != nil {
		firstErr = n.ch.Close()
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// eventName is new_listing for first sightings and updated_listing otherwise.
func eventName(a models.Announcement) string {
	if a.New {
		return "new_listing"
	}
	return "updated_listing"
}

// routingKey is listing.<new|updated>.<grade>, e.g. listing.new.s.
func routingKey(a models.Announcement) string {
	kind := "updated"
	if a.New {
		kind = "new"
	}
	return "listing." + kind + "." + strings.ToLower(string(a.Listing.Score.Grade))
}

func newPublishing(a models.Announcement) (amqp.Publishing, error) {
	l := a.Listing
	body, err := json.Marshal(ListingEvent{
		Event:       eventName(a),
		ID:          l.ID,
		Title:       l.Title,
		URL:         l.SourceURL,
		Address:     l.Address,
		PriceText:   l.PriceText,
		PriceAmount: l.PriceAmount,
		AreaTsubo:   l.AreaTsubo,
		Station:     l.NearestStation,
		Score:       l.Score,
		ScrapedAt:   l.ScrapedAt,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("notify: marshal %s: %w", l.ID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    l.ID,
		Timestamp:    time.Now(),
		Body:         body,
	}, nil
}
