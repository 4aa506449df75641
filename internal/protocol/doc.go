// Package protocol defines the request/response envelope spoken between the
// bridge and an out-of-process or sandboxed reader runtime, the
// length-prefixed JSON framing used on stream transports, and a Dataset
// implementation that drives any peer speaking it.
package protocol
