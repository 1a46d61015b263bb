// Package types provides the browser entities shared by the store, the
// bridge, the tab controller and the HTTP layer.
//
// Core Types:
//   - Tab: one browsing context, tracked by id
//   - Bookmark, HistoryItem: url-keyed records with back-filled favicons
//   - BrowserSettings: the singleton settings record
//   - DownloadItem: a download and its progress
//
// Patch types carry optional fields; a nil field leaves the target
// untouched. JSON field names match the persisted blob.
package types
