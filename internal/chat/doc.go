// Package chat implements DM conversations on top of a session.
package chat
