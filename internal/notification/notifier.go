// Package notification provides alert delivery to external channels
// (Telegram, webhooks, etc.) for pipeline health events such as
// sustained data outages on a feed.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Feed and Streak carry the
// pipeline context (which feed, how many bad bars) so backends can render
// it without parsing the message text.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Feed    string     `json:"feed,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Streak  int        `json:"streak,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Feed != "" {
		log.Printf("[notify] [%s] %s (feed=%s): %s", alert.Level, alert.Title, alert.Feed, alert.Message)
		return nil
	}
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// MultiNotifier fans one alert out to several backends. Delivery errors
// are logged, not returned, so one dead channel cannot block the rest.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier creates a notifier that sends to all given backends.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	return &MultiNotifier{backends: backends}
}

func (m *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
		}
	}
	return nil
}
