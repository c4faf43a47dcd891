// Package router decides which inbound WhatsApp events the assistant acts
// on and runs them: a reset command clears the chat's history, anything
// else is answered through the completion capability and sent back
// through the session. Failures are logged and never reach the chat.
package router
