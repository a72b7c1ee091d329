// Package wait decides when a started broker is ready for use.
//
// A [Strategy] is armed before the container starts, so that any output it depends on cannot be
// missed, and returns a [WaitFunc] that the container calls once it is running. Two strategies
// are provided: [ForMQTT] completes a real MQTT handshake against the broker, and [ForLog] waits
// for a set of output patterns. [All] combines strategies so that every one of them must succeed.
package wait
