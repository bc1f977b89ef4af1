// Package monitor serves live pipeline status and events over a websocket.
//
// Clients connect to /monitor and receive JSON envelopes:
//
//	{"type":"status","session":"...","time":"...","payload":{...}}
//
// They may send {"type":"command","payload":{"action":"pause"}} to control
// playback; actions are handed to the configured command handler.
package monitor
