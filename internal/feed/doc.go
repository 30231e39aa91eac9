// Package feed streams committed marketplace events over WebSocket.
//
// Hub is the server side: each connected client gets its own bounded bus
// subscription, receives one JSON text frame per event, and is pinged on an
// interval. A client that falls behind its buffer is disconnected with
// close code 1013 (try again later) rather than slowing the marketplace.
//
// Client is the consumer side used by marketwatch. It decodes frames back
// into model.Event values and reports stale connections.
package feed
