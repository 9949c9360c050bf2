// Package state keeps local views of the backend's conversations and models consistent with the
// backend, and exposes them to a presentation layer through a shared Store.
//
// # Components
//
//   - Conversations caches the conversation summaries and the single active conversation. It
//     applies the user's input optimistically, then replaces it with the backend's copy once the
//     remote call settles.
//   - Models proxies model lifecycle calls and mirrors the backend's model inventory.
//   - Registry attaches push notification listeners, at most once per channel.
//   - ConfigBridge passes config reads and writes through to the backend.
//
// # Consistency
//
// Every container in the Store is replaced wholesale, inside one critical section, so readers
// never observe a half-applied update. Operations are not serialized against each other: when two
// reloads of the same conversation overlap, the last one to complete wins.
//
// Read paths (list loads, status queries, listener attachment) log failures and fall back to the
// previous or a neutral value. Write paths log and return their errors, except
// Models.AbortGeneration and the persistence of the last opened conversation, which are best
// effort.
package state
