// Package broker defines the fan-out relay that carries a bridge
// connection's outbound JSON-RPC traffic to its event stream consumers.
// Each connection owns one channel; publishes are ordered within a channel
// and every envelope gets a monotonically increasing event id so consumers
// can resume after a dropped stream.
package broker

import "context"

// Broker queues and delivers outbound messages for HTTP bridge connections.
// Implementations must preserve publish order within a channel and isolate
// channels from each other.
type Broker interface {
	// Publish stores the payload under the channel and wakes subscribers.
	// It returns the event id assigned to the envelope.
	Publish(ctx context.Context, channel string, payload []byte) (eventID string, err error)

	// Subscribe opens an ordered stream over the channel. An empty
	// lastEventID starts at the next published envelope; a non-empty one
	// resumes delivery immediately after that envelope. An id the broker no
	// longer knows about degrades to live-only delivery so a consumer
	// reconnecting after a cleanup is not locked out.
	Subscribe(ctx context.Context, channel string, lastEventID string) (Stream, error)

	// Cleanup discards the channel's stored envelopes and ends its streams.
	Cleanup(ctx context.Context, channel string) error
}

// Stream yields a channel's envelopes in publish order. A Stream is owned by
// a single consumer; Next must not be called concurrently.
type Stream interface {
	// Next blocks until an envelope is available or ctx is done. It returns
	// io.EOF once the stream is closed and drained.
	Next(ctx context.Context) (Envelope, error)

	// Close releases the subscription. Next returns io.EOF afterwards.
	Close() error
}

// Envelope pairs a payload with the event id it was assigned at publish.
type Envelope struct {
	// ID orders the envelope within its channel.
	ID string `json:"id"`
	// Data is the encoded JSON-RPC message.
	Data []byte `json:"data"`
}
