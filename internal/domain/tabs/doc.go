/*
Package tabs is the tab lifecycle controller.

It watches a session.Store and keeps one content surface and one bridge
session per open tab:

  - a tab that becomes active or starts loading gets a surface
  - a url change on a loading tab is loaded on its surface
  - the one-shot reloadRequested flag reloads the surface and is cleared
  - a closed tab's surface and bridge session are closed

Surface events flow back into the store: load start marks the tab loading
and restores the cached favicon, load end records title, url, favicon and
history, load errors set the tab's error flag. Bridge messages update
favicons across the tab, the hostname cache, history and bookmarks, and
surface as Notices for the UI (context menus, video state, storage
snapshots, degraded instrumentation).

Private tabs never write history or the favicon cache, and tabs they open
are private too.

Usage:

	ctrl := tabs.New(store, factory, tabs.WithLogger(logger), tabs.WithDownloader(dl))
	defer ctrl.Close()
	if err := ctrl.Bootstrap(ctx); err != nil {
		return err
	}
	stop := ctrl.Subscribe(func(n tabs.Notice) { ... })
*/
package tabs
