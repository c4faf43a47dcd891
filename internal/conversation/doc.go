// Package conversation keeps the bounded, in-memory dialogue history of each
// chat.
//
// # Overview
//
// A Store maps chat ids to an ordered window of turns:
//
//	store := conversation.NewStore(20)
//	store.AppendAndTrim(chatID, conversation.RoleUser, "hi")
//	history := store.GetOrCreateHistory(chatID)
//
// The window never exceeds the history cap; appending beyond it drops the
// oldest turns first. Clear removes a chat entirely, so the next lookup
// starts fresh.
//
// # Concurrency
//
// All methods are safe for concurrent use. Lock(chatID) additionally
// serializes whole read-complete-append sequences for one chat, which the
// router holds for the duration of a dispatch.
//
// Nothing is persisted: history is a convenience window, not a record.
package conversation
