// Package ws streams the merged feed to websocket clients.
//
// New(store, interval) creates a Hub. Hub.Run(ctx) broadcasts on every
// interval until ctx is cancelled, then closes all connections.
// Hub.ServeHTTP upgrades a request, sends the current merged feed at once
// and then every broadcast. The server mounts it at /ws/feed.
//
// Message format:
//
//	{
//	  "event": "feed",
//	  "data":  { /* same schema as GET /api/v1/feed */ }
//	}
//
// The upgrader accepts all origins; restrict them at the reverse proxy.
package ws
