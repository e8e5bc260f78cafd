// Package gateway implements the Consumer Gateway and Transport Hub
// (spec §4.4, §4.10): the WebSocket-facing edge of the broker. The
// Consumer Gateway authenticates incoming consumer sockets, replays
// session state to them in a fixed order, and runs every inbound frame
// through a size/parse/authorize/rate-limit pipeline before handing it
// to a session.Runtime. The Transport Hub accepts the dial-back
// connections inverted adapters (e.g. claude) spawn, matching them to
// the session awaiting a DeliverSocket call.
package gateway
