// Package engine keeps a VTO door station session alive and turns its event
// stream into doorbell, lock and tamper signals.
//
// An Engine owns a single TCP connection to the device. Everything that
// mutates session state runs on the goroutine executing Run: decoded
// messages from the reader goroutine, dial results, the one-second
// scheduler tick and caller commands all arrive over channels. This keeps
// the pending-call table and timers free of locks.
//
// # Session lifecycle
//
//	connect -> anonymous login (challenge) -> hashed login
//	        -> capability loading (retried up to 3 times, 5s apart)
//	        -> eventManager.attach
//
// Any transport error, failed keepalive, failed login or handshake timeout
// discards the session and schedules a reconnect 30 seconds later. Request
// ids restart at 2 on every connection and replies addressed to an older
// connection are dropped.
//
// # Outputs
//
// State changes are reported through a Sink. OpenDoor and CloseDoor are
// accepted from any goroutine and return once the call is written.
package engine
