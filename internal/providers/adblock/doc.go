// Package adblock decides which hosts a tab with ad blocking enabled may
// contact. Patterns use gobwas/glob syntax with "." as the separator.
package adblock
