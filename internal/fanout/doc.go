// Package fanout delivers submessage events to the users who can see the
// parent message.
//
// Events are sharded by parent message ID onto a fixed pool of workers, each
// draining its own FIFO queue, so every recipient observes the events of one
// message in the order they were published. Publishing never blocks: when a
// shard queue is full the event is dropped and counted. Delivery itself goes
// through a Sink and is retried with exponential backoff.
package fanout
