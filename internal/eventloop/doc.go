// Package eventloop serializes every inbound event of the firmware core into
// one queue processed strictly in arrival order.
//
// # Concurrency
//
// Radio callbacks, user input, HTTP handlers and timers may call Post from
// any goroutine. Dispatch always happens on a single goroutine, so the state
// machines behind the Dispatcher never lock. A transition that needs to wait
// posts a deferred event to itself with PostAfter instead of blocking.
//
// Cancelled timers are dropped even when they already fired and sit in the
// queue: the timer ID is checked again at dispatch time.
//
// Manual is a deterministic Scheduler with a virtual clock. Tests and the
// scenario simulator drive it with RunPending and Advance.
package eventloop
