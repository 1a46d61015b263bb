/*
Package bridge implements the message protocol between the shell and an
embedded content surface.

Inbound frames are JSON objects tagged by "type" (favicon, contextMenu,
video lifecycle events, newTab, cookies, localStorageData and
injectionVerification). Parse validates them; Session routes them to a
Handler.

Outbound traffic is a closed set of Commands. Each is serialised as data
and interpreted by a fixed dispatcher installed by Script, so page-controlled
values never become script source.

Because surfaces offer no acknowledgement for injected script, Handshake
infers delivery: after each page load it injects, asks for an echo, and
treats real traffic arriving while the echo is outstanding as a miss that
costs one re-injection. When the budget is spent the session is Degraded;
messages keep flowing but the page features may be incomplete.
*/
package bridge
