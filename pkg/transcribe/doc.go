// Package transcribe is the client side of the streaming transcription
// protocol: a WebSocket link, the per-recording session state machine, the
// inbound frame router and typed event subscriptions, plus the HTTP health
// probe and batch upload endpoints of the same server.
//
// Wire protocol (JSON text frames):
//
//	client → server  {"type":"config","language":"en"}
//	                 {"type":"audio","data":"<base64 PCM>"}
//	                 {"type":"stop"}
//	server → client  {"type":"ready"}
//	                 {"type":"transcript","text":"<cumulative text>"}
//	                 {"type":"done"}
//	                 {"type":"error","message":"..."}
//
// Usage:
//
//	c, err := transcribe.NewClient("ws://127.0.0.1:8765/stream")
//	c.OnTranscript(func(ev transcribe.TranscriptEvent) { fmt.Println(ev.Text) })
//	if !c.Start(ctx, "en") {
//	    // server unavailable
//	}
//	c.SendAudio(chunk)
//	c.Stop(ctx)
package transcribe
