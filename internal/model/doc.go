// Package model defines the data types shared between the REST client, the
// chat conversations and the transcript archive.
//
// Only the fields the client acts on are mapped. Everything else in the
// service's payloads is ignored on decode.
//
// Conventions:
//   - IDs: strings as returned by the service (UUIDs for chats and turns,
//     external IDs for characters); user IDs are int64
//   - Timestamps: time.Time decoded from RFC 3339
package model
