package port

// AlertSink delivers a notification. Send reports whether the message was
// actually emitted.
type AlertSink interface {
	Send(title, message, level string) bool
}

// NotificationGate throttles repeat notifications per (level, code) pair.
type NotificationGate interface {
	Allow(level, code string) bool
}
