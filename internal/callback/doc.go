// Package callback delivers downloaded results back to the host.
//
// An entry either names a method callback, which is looked up by key in a
// Registry the host fills at startup, or carries no method and is delivered
// as an Event to an EventSink. Sinks include a plain function adapter, a
// fan-out Broker for in-process subscribers and a Redis stream publisher.
package callback
