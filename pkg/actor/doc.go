// ABOUTME: Actor protocol package
// ABOUTME: Tagged messages over a control channel and a data channel
// Package actor implements the message protocol between a single actor
// goroutine and its clients.
//
// Control messages always reach the actor before queued data messages, and
// each channel is FIFO. Senders may block for a reply (SendControlSync) or
// post and collect replies later (SendData + Replies).
package actor
