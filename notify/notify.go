// Package notify carries user-facing toast notifications out of the print
// pipeline. The pipeline only calls Notify; presentation is left to the caller.
package notify

import (
	"log/slog"
	"sync"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

type Notifier interface {
	Notify(kind Kind, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind Kind, message string)

func (f NotifierFunc) Notify(kind Kind, message string) { f(kind, message) }

type Toast struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// LogNotifier writes every toast to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(kind Kind, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case KindError:
		logger.Error("Toast", "kind", kind, "message", message)
	case KindWarning:
		logger.Warn("Toast", "kind", kind, "message", message)
	default:
		logger.Info("Toast", "kind", kind, "message", message)
	}
}

// Collector keeps the toasts of one request so they can be returned to the
// client, and forwards each of them to Next when set.
type Collector struct {
	Next Notifier

	mu     sync.Mutex
	toasts []Toast
}

func (c *Collector) Notify(kind Kind, message string) {
	c.mu.Lock()
	c.toasts = append(c.toasts, Toast{Kind: kind, Message: message})
	c.mu.Unlock()

	if c.Next != nil {
		c.Next.Notify(kind, message)
	}
}

// Toasts returns a copy of everything collected so far.
func (c *Collector) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}
