// Package interop carries remote invocations between local code and the
// server over a circuit connection.
//
// Inbound JS.BeginInvokeJS payloads are handed to a Handler unchanged.
// Outbound calls become a single BeginInvokeDotNetFromJS message:
//
//	BeginInvokeDotNetFromJS(callId|null, assemblyName|null, methodIdentifier, dotNetObjectId, argsJson)
//
// The Dispatcher never buffers: a call made while no connection is attached
// fails with ErrNotConnected.
package interop
