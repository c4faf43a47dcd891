// Package session owns the lifecycle of the single WAHA session this process
// drives.
//
// # Overview
//
// The Manager creates (or reuses) a named session pointed at our webhook,
// then waits for the WhatsApp handshake to finish by polling WAHA:
//
//	STARTING → SCAN_QR_CODE → WORKING
//	    └──────────┴──────────→ FAILED (terminal)
//
// WAHA is the only source of truth. AwaitStatus never infers state locally;
// every attempt re-fetches the session, so polling survives restarts of
// either side.
//
// # Handshake
//
// While the session is in SCAN_QR_CODE the manager fetches the raw QR value
// and hands it to a Presenter (the terminal by default). When a pairing
// phone number is configured it requests a pairing code instead. Both are
// best effort: WAHA rejects artifact requests outside the exact sub-state,
// so failures are logged and the poll continues.
//
// # Errors
//
//   - *ValidationError: empty required argument
//   - *SessionCreateError: create/reuse failed
//   - *SessionFailedError: WAHA reported FAILED
//   - *SessionTimeoutError: poll attempts exhausted
//   - *SendError: sendText failed (wraps *waha.TransportError)
//
// Teardown operations treat 404 as success.
package session
