// Package chat adapts Twitch chat to the archiver's platform interfaces.
//
// Twitch has no history API for chat, so the Recorder joins every configured
// channel over IRC and buffers each message in the chat_messages table. The
// Platform then serves that buffer as channel history, treats each broadcaster
// as its own guild with a single text channel, and delivers notices as chat
// messages in the broadcaster's channel.
//
// Credentials: the IRC client needs a bot username and a user OAuth token with
// chat:read/chat:edit scopes. When a refresh token and client credentials are
// configured, the token is minted through golang.org/x/oauth2 instead.
package chat
