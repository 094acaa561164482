// Package notifier
package notifier

// Notifier interface for delivering operational alerts (e.g., Telegram).
type Notifier interface {
	Send(msg string) error
}
