// Package http provides the JSON API the UI layer drives the browser with.
//
// Endpoints:
//   - Health: /health
//   - State: /api/state
//   - Tabs: /api/tabs, /api/tabs/:id/{status,activate,navigate,home,reload,back,forward,bookmark}
//   - Page: /api/tabs/:id/context-menu, /api/tabs/:id/video, /api/tabs/:id/storage
//   - Back button: /api/back
//   - Library: /api/bookmarks, /api/history, /api/history/suggest
//   - Settings: /api/settings, /api/settings/search-engine
//   - Downloads: /api/downloads
//   - Favicons: /api/favicons, /api/favicons/:host
//
// Errors are returned as {"error": "..."}: unknown tabs are 404, bad input
// is 400, operations that need a loaded page or an open menu are 409.
//
// Example Usage:
//
//	handlers := http.NewHandlers(store, ctrl, downloads, metrics, logger)
//	handlers.Register(router)
package http
