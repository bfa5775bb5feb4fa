// Package adapter defines the uniform lifecycle and I/O contract every
// platform integration satisfies, plus the concrete implementations. The
// gateway only ever sees this interface; platform SDKs stay behind it.
package adapter

import (
	"context"

	"secretary/internal/model"
)

// Adapter is the capability set one channel integration implements.
//
// Lifecycle: Disconnected -> Connect -> Connected -> Listen (sub-state) ->
// Disconnect -> Disconnected. Connect failure leaves the adapter
// disconnected; there is no reconnecting state, callers retry Connect
// themselves.
type Adapter interface {
	// ChannelType tags the adapter; the gateway registers one adapter per
	// channel type.
	ChannelType() model.ChannelType

	// Connect establishes the platform session. Expected failures (bad
	// token, network) are reported as false, never as a panic.
	Connect(ctx context.Context) bool

	// Disconnect releases the session and stops any in-flight listen
	// stream. Safe to call when already disconnected.
	Disconnect()

	// Listen returns a stream of normalized messages in platform receipt
	// order. The channel is closed when the context is cancelled or the
	// adapter disconnects; a fresh Connect+Listen cycle is required after
	// that. Messages pass through a bounded FIFO queue, so a slow consumer
	// causes drops at the queue bound rather than unbounded growth.
	Listen(ctx context.Context) <-chan model.NormalizedMessage

	// Send delivers msg when msg.Confirmed is true; otherwise it writes a
	// draft artifact and makes no platform call. This is the gateway's
	// core safety invariant and every implementation enforces it locally.
	Send(ctx context.Context, msg model.OutboundMessage) model.SendResult

	// Status reports at least "connected" and "channel".
	Status() map[string]any

	// IsConnected reflects the last Connect/Disconnect outcome.
	IsConnected() bool
}
