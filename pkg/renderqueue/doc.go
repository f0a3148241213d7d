// Package renderqueue applies render batches per renderer in batch id order
// and acknowledges each one to the hub with OnRenderCompleted.
//
// A circuit router creates one Queue per renderer id, lazily, and hands
// every batch to it together with the connection the batch arrived on.
// The queue acknowledges on whichever connection delivered the most recent
// batch, so batches held across a reconnect are acknowledged on the live
// connection.
package renderqueue
