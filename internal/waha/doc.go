// Package waha is a thin client for the WAHA WhatsApp HTTP gateway.
//
// # Overview
//
// WAHA manages WhatsApp sessions on behalf of this process. The client wraps
// the REST surface used by the bridge:
//
//   - Session lifecycle: create, update, get, list, start, stop, restart,
//     logout, delete
//   - Authentication artifacts: raw QR value and pairing codes
//   - Messaging: POST /api/sendText
//
// Every request carries the X-Api-Key header. Non-2xx responses surface as
// *TransportError with the status code and the best message WAHA returned:
//
//	client := waha.NewClient("http://localhost:3000", apiKey)
//	sess, err := client.GetSession(ctx, "default")
//	if waha.IsNotFound(err) {
//	    // session does not exist yet
//	}
package waha
