// Package auth provides API key middleware for the HTTP surfaces of
// syndicate-server.
//
// APIKey(mode, header, key) wraps an http.Handler. When mode != "apikey" or
// key == "" every request passes through, which suits local development.
// Otherwise the key must arrive in the named header, or in the api_key query
// parameter for websocket clients that cannot set headers, and a missing or
// wrong key is answered with 401.
package auth
