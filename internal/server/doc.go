// Package server exposes the bridge over HTTP.
//
// # Endpoints
//
//	GET  /api/status      engine snapshot plus the last published states
//	POST /api/door/open   send an unlock command (202 Accepted)
//	POST /api/door/close  send a lock command (202 Accepted)
//	GET  /ws              WebSocket stream of event envelopes
//
// Door commands are fire-and-forget: 202 means the command was written to
// the VTO, not that the relay moved. Rejections map to status codes:
//
//	409 Conflict             door is on hold after a recent unlock
//	503 Service Unavailable  no session, or the access control instance
//	                         has not been loaded
//	504 Gateway Timeout      the engine did not answer in time
//	502 Bad Gateway          the write to the VTO failed
//
// # WebSocket
//
// Hub implements integration.Publisher. Register it on an EnvelopeSink and
// every connected client receives each envelope as a JSON text message.
// The server pings clients every 54 seconds and drops those that fall
// behind; clients have nothing to send.
//
// # Usage Example
//
//	hub := server.NewHub()
//	tracker := integration.NewTracker()
//	sink := integration.Multi{tracker, integration.NewEnvelopeSink(hub)}
//	eng := engine.New(cfg, sink)
//
//	srv := server.New(server.Config{Listen: ":8080"}, eng, tracker, hub)
//	go eng.Run(ctx)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
