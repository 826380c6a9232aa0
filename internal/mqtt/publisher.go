package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
)

// AlertMessage is the JSON payload published for each transition.
type AlertMessage struct {
	State       alert.State `json:"state"`
	Previous    alert.State `json:"previous"`
	Latitude    *float64    `json:"latitude,omitempty"`
	Longitude   *float64    `json:"longitude,omitempty"`
	Zone        string      `json:"zone,omitempty"`
	Species     string      `json:"species,omitempty"`
	ImageRef    string      `json:"image_ref,omitempty"`
	EnteredAt   time.Time   `json:"entered_at"`
	PublishedAt time.Time   `json:"published_at"`
}

// Publisher sends alert transitions to {topic}/alert.
type Publisher struct {
	client Client
	cfg    Config
	log    logger.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher over client.
func NewPublisher(client Client, cfg Config, log logger.Logger) *Publisher {
	return &Publisher{
		client: client,
		cfg:    cfg,
		log:    logger.OrDiscard(log).Module("mqtt"),
		now:    time.Now,
	}
}

// Topic returns the alert topic.
func (p *Publisher) Topic() string {
	return p.cfg.Topic + "/alert"
}

// PublishTransition publishes tr. Transitions are dropped, with an error,
// while the broker is unreachable.
func (p *Publisher) PublishTransition(ctx context.Context, tr alert.Transition) error {
	msg := AlertMessage{
		State:       tr.To,
		Previous:    tr.From,
		Zone:        tr.Alert.Zone,
		Species:     tr.Alert.Species,
		ImageRef:    tr.Alert.ImageRef,
		EnteredAt:   tr.Alert.EnteredAt,
		PublishedAt: p.now().UTC(),
	}
	if loc := tr.Alert.Location; loc != nil {
		msg.Latitude, msg.Longitude = &loc.Latitude, &loc.Longitude
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}
	if err := p.client.Publish(ctx, p.Topic(), p.cfg.QoS, p.cfg.Retain, payload); err != nil {
		return err
	}
	p.log.Debug("alert published",
		logger.String("topic", p.Topic()),
		logger.String("state", string(tr.To)))
	return nil
}
