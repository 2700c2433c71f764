// Package integration connects the engine's signals to the outside world.
//
// Every type here implements engine.Sink or consumes Envelopes produced by
// EnvelopeSink:
//
//	LogSink      structured log line per state change
//	Tracker      last known state, for status endpoints
//	Multi        fan-out to several sinks
//	EnvelopeSink wraps each change in an Envelope for Publishers
//	MQTTBridge   retained state topics and a lock command topic
//	NATSBridge   event subjects and a request/reply command subject
//
// Sink methods run on the engine loop, so nothing in this package blocks
// on network I/O inside them.
package integration
