// Package notify routes batch events to configured adapters.
package notify

import "log"

// Sender can send a plain text message.
type Sender interface {
	Send(msg string) error
}

// Dispatcher routes notifications to Telegram. More adapters can be added
// the same way the Telegram one is.
type Dispatcher struct {
	telegram Sender
}

// New creates a Dispatcher. telegram may be nil (disabled).
func New(telegram Sender) *Dispatcher {
	return &Dispatcher{telegram: telegram}
}

// SendTelegram sends a message via Telegram. No-op when disabled.
func (d *Dispatcher) SendTelegram(msg string) {
	if d == nil || d.telegram == nil {
		return
	}
	if err := d.telegram.Send(msg); err != nil {
		log.Printf("notify: telegram: %v", err)
	}
}
