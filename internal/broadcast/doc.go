// Package broadcast runs the periodic market broadcast scheduler: a 1-second
// clock samples wall time in a fixed reference timezone, a matcher fires each
// configured task at most once per scheduled minute, a trading-day gate
// suppresses firing on weekends and holidays, and failed deliveries go
// through a bounded in-memory retry queue.
//
// The scheduler holds no durable state: the retry queue is transient and
// lost on restart.
package broadcast
