// Package feed implements the resilient market-data feed client.
//
// The Client:
//   - Owns one websocket connection at a time (a session)
//   - Runs an inbound loop (receive, decode, route) and an outbound loop
//     (staleness check, keepalive ping, one queued command per cycle) per session
//   - Replaces the session on receive failure or heartbeat staleness, with
//     exponential backoff between failed dials
//   - Replays the full subscription on every new session
//   - Hands decoded application messages to the consumer through Output()
package feed
