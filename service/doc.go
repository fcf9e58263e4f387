// Package service drives the trading state machine: it consumes the
// sequenced event stream strictly in order, repairs gaps from the durable
// log, dispatches each event to the order registry, the matching engine
// and clearing, and queues what it produced for the publishers.
//
// All state mutation happens on the goroutine that calls ProcessBatch.
// Everything handed out of the package is an immutable copy.
package service
