package notify

import (
	"context"
	"log"
	"strings"

	"github.com/coachpo/stockwatch/internal/telemetry"
)

// Router picks a destination by product category.
type Router struct {
	destinations map[string]*Telegram
	order        []string
	fallback     string
	instruments  *telemetry.Instruments
	logger       *log.Logger
}

// NewRouter returns an empty router. Categories without a destination of their own
// are sent to fallback.
func NewRouter(fallback string, instruments *telemetry.Instruments, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		destinations: make(map[string]*Telegram),
		fallback:     fallback,
		instruments:  instruments,
		logger:       logger,
	}
}

// Add registers t under name, replacing any previous destination.
func (r *Router) Add(name string, t *Telegram) {
	if _, ok := r.destinations[name]; !ok {
		r.order = append(r.order, name)
	}
	r.destinations[name] = t
}

// Destinations returns the registered names in insertion order.
func (r *Router) Destinations() []string {
	return append([]string(nil), r.order...)
}

// Notify sends msg to the destination for category.
func (r *Router) Notify(ctx context.Context, msg Message, category string) bool {
	name := strings.TrimSpace(category)
	dest, ok := r.destinations[name]
	if !ok {
		name = r.fallback
		dest, ok = r.destinations[name]
	}
	if !ok {
		r.logger.Printf("notify: no destination for category %q", category)
		r.instruments.RecordNotification(ctx, name, false)
		return false
	}
	delivered := dest.Send(ctx, msg)
	r.instruments.RecordNotification(ctx, name, delivered)
	return delivered
}

// Broadcast sends text to every destination and returns how many accepted it.
func (r *Router) Broadcast(ctx context.Context, text string) int {
	n := 0
	for _, name := range r.order {
		if r.Notify(ctx, Message{Text: text}, name) {
			n++
		}
	}
	return n
}

// Announce sends a per-destination text built by format.
func (r *Router) Announce(ctx context.Context, format func(destination string) string) int {
	n := 0
	for _, name := range r.order {
		if r.Notify(ctx, Message{Text: format(name)}, name) {
			n++
		}
	}
	return n
}
