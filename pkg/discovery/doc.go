// Package discovery resolves a channel server endpoint through mDNS/DNS-SD.
//
// Servers advertise a service such as "_chanmux._tcp" in the "local." domain.
// Two optional TXT keys refine the endpoint:
//
//	path=/stream   request path of the WebSocket endpoint (default "/")
//	tls=1          use wss:// instead of ws://
//
// Resolve browses until the first usable instance appears or the timeout
// expires.
package discovery
