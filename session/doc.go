// Package session houses concrete implementations of core.ConversationStore.
// The interface itself (and the Conversation and StoredMessage records) live
// in the core package to centralize domain contracts. Keeping only
// implementations here prevents higher level packages (relay, gateway) from
// depending on concrete storage.
//
// The durable backend lives in store/sqlite; only the wiring layer decides
// which implementation to instantiate.
package session
