package interfaces

import (
	"context"
	"errors"
	"log"

	alerts "ecowatt-cloud/internal/alerts/domain"
	"ecowatt-cloud/internal/alerts/notify"
	"ecowatt-cloud/internal/eventbus"
	"ecowatt-cloud/internal/observability/metrics"
)

// AlertWriter is the persistence side of the alert sink.
type AlertWriter interface {
	Create(ctx context.Context, alert alerts.Alert) error
}

// RaisedConsumer persists raised alerts and fans them out to notifiers.
type RaisedConsumer struct {
	repo     AlertWriter
	notifier notify.Notifier
	logger   *log.Logger
}

// NewRaisedConsumer constructs a consumer.
func NewRaisedConsumer(repo AlertWriter, notifier notify.Notifier, logger *log.Logger) (*RaisedConsumer, error) {
	if repo == nil {
		return nil, errors.New("alerts consumer: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RaisedConsumer{repo: repo, notifier: notifier, logger: logger}, nil
}

// Handle consumes one alerts.Raised event. Persistence errors propagate;
// notification failures are logged only, so a broken webhook never loses
// the stored alert.
func (c *RaisedConsumer) Handle(ctx context.Context, event any) error {
	evt, ok := event.(alerts.Raised)
	if !ok {
		if ptr, ok := event.(*alerts.Raised); ok && ptr != nil {
			evt = *ptr
		} else {
			return eventbus.ErrInvalidEventType
		}
	}

	if err := c.repo.Create(ctx, evt.Alert); err != nil {
		return err
	}
	metrics.IncAlertRaised(string(evt.Alert.Kind))

	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, evt.Alert); err != nil {
			c.logger.Printf("alerts: notify device=%d kind=%s: %v", evt.Alert.DeviceID, evt.Alert.Kind, err)
		}
	}
	return nil
}
