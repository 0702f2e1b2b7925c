// Package queue provides the unbounded FIFO used for the feed client's
// command and output channels.
//
// A Queue never blocks producers: it doubles its ring when it reaches 70%
// occupancy. Consumers choose between a blocking Receive and a polling
// TryReceive.
package queue
