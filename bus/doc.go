// Package bus provides message routing between sandboxes.
//
// The bus package implements a registry of per-sandbox bounded channels.
// Register returns the receive side for an id; Send routes point-to-point
// and blocks when the recipient's channel is full (backpressure, never a
// drop); Broadcast delivers to every registered id except the sender and
// collects per-recipient failures without aborting the fan-out.
//
// Deregistration removes routing only: messages already enqueued remain
// readable on the receive channel. Delivered messages are retained in a
// bounded history that can be queried by id or kind.
package bus
