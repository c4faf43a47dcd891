// Package webhook is the HTTP boundary of the bot. It receives gateway
// webhook deliveries, acknowledges them at once, and processes them in
// the background through the router. It also reports conversation stats
// and liveness, and can listen on a tailnet node instead of a TCP port.
package webhook
