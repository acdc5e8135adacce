package notifier

import (
	"whalewatch/model"
)

// Notifier is the interface for delivering alerts to notification channels.
// Emit must return quickly; buffering and retries are the channel's problem.
type Notifier interface {
	// SendAlert delivers a consolidated whale alert.
	SendAlert(alert model.Alert)

	// SendDigest delivers a periodic digest report.
	SendDigest(title, body string)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendAlert(alert model.Alert) {
	for _, n := range m.notifiers {
		n.SendAlert(alert)
	}
}

// SendDigest sends the digest to all registered notifiers.
func (m *MultiNotifier) SendDigest(title, body string) {
	for _, n := range m.notifiers {
		n.SendDigest(title, body)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
