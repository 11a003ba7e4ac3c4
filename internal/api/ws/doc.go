// Package ws exposes mounted filesystems to remote clients over WebSocket.
//
// Each connection gets its own Transport, Channel and Skeleton over the
// requested mount, so the client's Stub sees the full FileSystem surface.
//
// Features:
//   - Upgrade from GET /mount/:name
//   - Per-connection codec selection (?codec=json|cbor)
//   - Connections dropped when their mount is unmounted
//   - Session listing for the health endpoint
//
// Example Usage:
//
//	handler := ws.NewHandler(mounts, ws.Config{Codec: transport.JSON})
//	router.GET("/mount/:name", handler.HandleConnection)
package ws
