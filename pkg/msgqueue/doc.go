// ABOUTME: Message queue package shared by the dispatch loop and the sink actor
// ABOUTME: Priority ordering, backpressure accounting and two-phase shutdown
// Package msgqueue provides the bounded priority queue that connects the
// pipeline's goroutines.
//
// Get blocks for at most the given timeout and distinguishes a timeout
// (ErrTimeout) from teardown (ErrAborted). Abort wakes every waiter; the queue
// then refuses Put until Init or Flush. Items implementing Sized count towards
// DataSize and TimeSize, which drive IsFull for producer backpressure.
//
// Example:
//
//	q := msgqueue.New[*Msg]("audio",
//	    msgqueue.WithMaxDataSize[*Msg](6<<20),
//	    msgqueue.WithMaxTimeSize[*Msg](8*time.Second))
//	q.Init()
//	q.Put(msg, 0)
//	m, prio, err := q.Get(100*time.Millisecond, 0)
package msgqueue
