// Package prompt supplies the system prompt sent with every completion.
//
// A Source is either static (from config) or backed by a file that is
// watched with fsnotify and reloaded on change, so the assistant's persona
// can be tuned without restarting the bridge. A failed reload keeps the
// last good prompt.
package prompt
