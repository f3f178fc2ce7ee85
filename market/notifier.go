/*
notifier.go - Stock-change notification capability

The real-time layer (websockets, message broker) is an external collaborator.
The engine only knows this interface, injected at construction, so tests can
capture events and production can publish them to AMQP. Publishing is
fire-and-forget: a delivery failure never fails the sell or restock that
produced the event.
*/
package market

import "context"

// Notifier receives stock-change events after successful sells and restocks.
type Notifier interface {
	StockChanged(ctx context.Context, ev StockEvent)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) StockChanged(context.Context, StockEvent) {}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev StockEvent)

func (f NotifierFunc) StockChanged(ctx context.Context, ev StockEvent) { f(ctx, ev) }
