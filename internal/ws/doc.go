// Package ws is the WebSocket transport collaborator of the presence
// core. It upgrades connections, assigns them stable connection ids,
// pumps frames in and out, decodes the {event, payload} envelope and
// dispatches named events into the core in per-connection order.
//
// The core never touches a socket directly: it emits through the
// presence.Gateway interface, implemented here by Hub.
package ws
