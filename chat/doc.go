// Package chat contains the Twitch chat listener for song requests.
//
// The listener joins TWITCH_CHANNEL over IRC and watches for the !sr command.
// A valid command carries an open.spotify.com track link; the track id is
// extracted, submitted through the song request lifecycle, and the requester
// gets feedback in chat. Feedback prefers the Helix chat API so replies can
// be threaded onto the triggering message, with plain IRC as fallback.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. The Helix reply path additionally needs
// TWITCH_BOT_USER_ID and an app access token.
package chat
