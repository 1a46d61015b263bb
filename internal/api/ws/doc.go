// Package ws provides the websocket endpoints.
//
// /api/stream pushes browser state to the UI:
//
//	snapshot  full session.State, sent once on connect
//	change    one session.Change per store mutation
//	notice    one tabs.Notice (context menus, video, storage, exit ...)
//	pong      reply to a client ping
//	error     reply to an unknown client message
//
// A client that cannot keep up is disconnected and should reconnect for a
// fresh snapshot.
//
// /api/tabs/:id/surface lets a device-side webview attach as the content
// surface of a tab when the remote surface backend is selected.
//
// Example Usage:
//
//	handler := ws.NewHandler(store, ctrl, metrics, logger)
//	router.GET("/api/stream", handler.HandleStream)
//	router.GET("/api/tabs/:id/surface", handler.HandleSurface(remoteFactory))
package ws
