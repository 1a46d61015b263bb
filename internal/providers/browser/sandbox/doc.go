/*
Package sandbox is a headless content surface built on the goja
JavaScript engine.

# Overview

A Surface fetches documents through the shared HTTP client, parses them
into a goquery-backed DOM and binds each loaded page to a Runtime from a
warm Pool. The page sees a small browser-shaped global scope:

  - document and element proxies with query, attribute and listener support
  - location, navigator, localStorage, sessionStorage and document.cookie
  - setTimeout/setInterval on a virtual clock
  - MutationObserver delivered after every script turn
  - window.__shellBridge.postMessage, the channel to the host

Page scripts are stripped unless Config.RunPageScripts is set, and inline
event handler attributes are always removed. Subresources on hosts the
ad-block filter matches are dropped before the page runs.

# Time

Nothing advances on its own. Timers fire only from Advance and the
interaction helpers (LongPress, TouchStart, Click, Play, End), which makes
touch-and-hold gestures deterministic in tests.

# Delivery

Messages a page posts and navigations it requests are queued while the
surface lock is held and delivered to browser.Events after it is
released, so event handlers may call back into the surface.

# Usage

	factory, err := sandbox.NewFactory(httpClient, sandbox.WithLogger(log))
	surface, err := factory.New(ctx, events, browser.Options{TabID: tabID})
	err = surface.Load(ctx, "https://example.com/")
	err = surface.LongPress(ctx, "a.story", 40, 120)
*/
package sandbox
