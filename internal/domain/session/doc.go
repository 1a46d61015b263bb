// Package session holds the browser's single source of truth.
//
// A Store owns tabs, bookmarks, history, settings, downloads and the
// hostname-keyed favicon cache. It is constructed explicitly and passed to
// whoever needs it; named methods are the only way to change it. Reads
// return copies, so callers can never alias store internals.
//
// Listeners registered with Subscribe are told which collection changed
// after every mutation. The Persister is one such listener: it writes a
// filtered projection of the state (see Project) to a storage.KV without
// blocking the mutation that triggered it.
//
// The package also carries the small pure helpers the address bar and
// settings screens need: URL normalisation, input resolution into a URL or
// search query, history suggestions and the favicon fallback URL.
package session
