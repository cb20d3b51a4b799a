// Package api provides the REST client for the chat service.
//
// The service is spread over three hosts:
//   - Web:  https://character.ai (routing metadata only)
//   - Plus: https://plus.character.ai (account endpoints)
//   - Neo:  https://neo.character.ai (characters, chats, turns)
//
// The WebSocket channels live in package connection; this package only
// fetches what the channels need before they open and the data a
// conversation needs to resynchronise.
package api
