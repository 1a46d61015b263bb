package sandbox

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
)

const (
	maxTimerFirings   = 10000
	maxObserverRounds = 10
	minInterval       = time.Millisecond
)

type listener struct {
	fn      goja.Callable
	value   goja.Value
	capture bool
}

type vtimer struct {
	id       int64
	due      time.Duration
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
}

type observer struct {
	callback goja.Callable
	self     *goja.Object
	targets  []observed
}

type observed struct {
	node    *html.Node
	subtree bool
}

type mediaState struct {
	paused      bool
	currentTime float64
	muted       bool
}

// page is one loaded document bound to a runtime. All methods run with
// the owning surface's lock held.
type page struct {
	rt     *Runtime
	vm     *goja.Runtime
	dom    *DOM
	url    *url.URL
	logger *logging.Logger

	jar       http.CookieJar
	local     *Storage
	session   *Storage
	userAgent string

	clock     time.Duration
	timers    map[int64]*vtimer
	nextTimer int64

	window    *html.Node
	listeners map[*html.Node]map[string][]listener
	proxies   map[*html.Node]*goja.Object
	nodes     map[*goja.Object]*html.Node
	observers []*observer
	media     map[*html.Node]*mediaState
	selection string

	outbox []string
	navs   []browser.NavigationRequest

	touchTarget *html.Node
}

type pageConfig struct {
	rt        *Runtime
	dom       *DOM
	url       *url.URL
	jar       http.CookieJar
	local     *Storage
	userAgent string
	logger    *logging.Logger
}

func newPage(cfg pageConfig) (*page, error) {
	p := &page{
		rt:        cfg.rt,
		vm:        cfg.rt.VM(),
		dom:       cfg.dom,
		url:       cfg.url,
		logger:    logging.OrNop(cfg.logger),
		jar:       cfg.jar,
		local:     cfg.local,
		session:   NewStorage(),
		userAgent: cfg.userAgent,
		timers:    map[int64]*vtimer{},
		window:    &html.Node{Type: html.DocumentNode, Data: "window"},
		listeners: map[*html.Node]map[string][]listener{},
		proxies:   map[*html.Node]*goja.Object{},
		nodes:     map[*goja.Object]*html.Node{},
		media:     map[*html.Node]*mediaState{},
	}
	if p.local == nil {
		p.local = NewStorage()
	}
	if err := p.install(); err != nil {
		return nil, err
	}
	return p, nil
}

// Execution entry points.

func (p *page) eval(ctx context.Context, script string) (*Result, error) {
	res, err := p.rt.Execute(ctx, script)
	p.settle(ctx)
	return res, err
}

func (p *page) call(ctx context.Context, fn goja.Callable, this goja.Value, args ...goja.Value) {
	if _, err := p.rt.Call(ctx, fn, this, args...); err != nil {
		p.logger.Debug("Page callback failed", zap.Error(err))
	}
}

// settle delivers pending mutation records.
func (p *page) settle(ctx context.Context) {
	for round := 0; round < maxObserverRounds; round++ {
		muts := p.dom.TakeMutations()
		if len(muts) == 0 {
			return
		}
		for _, obs := range append([]*observer(nil), p.observers...) {
			if obs.matches(muts) {
				p.call(ctx, obs.callback, obs.self, p.vm.NewArray(), obs.self)
			}
		}
	}
}

func (o *observer) matches(muts []*html.Node) bool {
	for _, t := range o.targets {
		for _, m := range muts {
			if m == t.node || (t.subtree && Contains(t.node, m)) {
				return true
			}
		}
	}
	return false
}

// advance moves the virtual clock forward by d, firing due timers in
// order.
func (p *page) advance(ctx context.Context, d time.Duration) {
	target := p.clock + d
	for fired := 0; fired < maxTimerFirings; fired++ {
		t := p.nextDue(target)
		if t == nil {
			break
		}
		p.clock = t.due
		if t.interval > 0 {
			t.due += t.interval
		} else {
			delete(p.timers, t.id)
		}
		p.call(ctx, t.fn, goja.Undefined(), t.args...)
		p.settle(ctx)
	}
	if p.clock < target {
		p.clock = target
	}
}

func (p *page) nextDue(limit time.Duration) *vtimer {
	var due []*vtimer
	for _, t := range p.timers {
		if t.due <= limit {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].id < due[j].id
	})
	return due[0]
}

// dispatch fires an event at target with capture then bubble phases and
// reports whether a listener called preventDefault.
func (p *page) dispatch(ctx context.Context, target *html.Node, typ string, init func(ev *goja.Object)) bool {
	ev := p.vm.NewObject()
	prevented, stopped := false, false
	_ = ev.Set("type", typ)
	_ = ev.Set("target", p.wrap(target))
	_ = ev.Set("defaultPrevented", false)
	_ = ev.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		prevented = true
		_ = ev.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	_ = ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		stopped = true
		return goja.Undefined()
	})
	if init != nil {
		init(ev)
	}

	// path runs from the window down to target.
	var path []*html.Node
	for n := target; n != nil; n = n.Parent {
		path = append([]*html.Node{n}, path...)
	}
	path = append([]*html.Node{p.window}, path...)

	fire := func(n *html.Node, capture bool) {
		for _, l := range p.listeners[n][typ] {
			if l.capture != capture {
				continue
			}
			_ = ev.Set("currentTarget", p.wrapAny(n))
			p.call(ctx, l.fn, p.wrapAny(n), ev)
		}
	}
	for _, n := range path {
		if stopped {
			break
		}
		fire(n, true)
	}
	for i := len(path) - 1; i >= 0 && !stopped; i-- {
		fire(path[i], false)
	}
	p.settle(ctx)
	return prevented
}

func (p *page) drain() []string {
	out := p.outbox
	p.outbox = nil
	return out
}

func (p *page) takeNavigations() []browser.NavigationRequest {
	out := p.navs
	p.navs = nil
	return out
}

// Host objects.

func (p *page) install() error {
	vm := p.vm
	global := vm.GlobalObject()

	set := func(name string, v interface{}) {
		_ = global.Set(name, v)
	}
	set("window", global)
	set("self", global)
	set("globalThis", global)
	set("document", p.wrap(p.dom.Root()))
	set("location", p.location())
	set("navigator", map[string]interface{}{"userAgent": p.userAgent, "language": "en-US", "onLine": true})
	set("localStorage", p.storageObject(p.local))
	set("sessionStorage", p.storageObject(p.session))

	set("setTimeout", p.setTimer(false))
	set("setInterval", p.setTimer(true))
	set("clearTimeout", p.clearTimer)
	set("clearInterval", p.clearTimer)

	set("addEventListener", p.addListener(p.window))
	set("removeEventListener", p.removeListener(p.window))
	set("getSelection", func(goja.FunctionCall) goja.Value {
		sel := vm.NewObject()
		text := p.selection
		_ = sel.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(text) })
		_ = sel.Set("rangeCount", len(text))
		return sel
	})
	set("open", func(call goja.FunctionCall) goja.Value {
		if ref := call.Argument(0); !goja.IsUndefined(ref) && ref.String() != "" {
			target := "_blank"
			if t := call.Argument(1); !goja.IsUndefined(t) && t.String() != "" {
				target = t.String()
			}
			p.navs = append(p.navs, browser.NavigationRequest{
				URL: p.dom.Resolve(ref.String()), Target: target, Type: browser.NavigationOther,
			})
		}
		return goja.Null()
	})
	set("MutationObserver", p.mutationObserver)

	bridge := vm.NewObject()
	_ = bridge.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		p.outbox = append(p.outbox, call.Argument(0).String())
		return goja.Undefined()
	})
	set("__shellBridge", bridge)
	set("__shellResolve", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(p.dom.Resolve(call.Argument(0).String()))
	})
	return nil
}

func (p *page) location() *goja.Object {
	loc := p.vm.NewObject()
	u := p.url
	origin := "null"
	if u.Scheme == "http" || u.Scheme == "https" {
		origin = u.Scheme + "://" + u.Host
	}
	_ = loc.Set("href", u.String())
	_ = loc.Set("origin", origin)
	_ = loc.Set("protocol", u.Scheme+":")
	_ = loc.Set("host", u.Host)
	_ = loc.Set("hostname", u.Hostname())
	_ = loc.Set("pathname", u.EscapedPath())
	_ = loc.Set("search", queryString(u))
	_ = loc.Set("hash", fragment(u))
	navigate := func(call goja.FunctionCall) goja.Value {
		p.navs = append(p.navs, browser.NavigationRequest{
			URL: p.dom.Resolve(call.Argument(0).String()), Type: browser.NavigationOther,
		})
		return goja.Undefined()
	}
	_ = loc.Set("assign", navigate)
	_ = loc.Set("replace", navigate)
	_ = loc.Set("reload", func(goja.FunctionCall) goja.Value {
		p.navs = append(p.navs, browser.NavigationRequest{URL: u.String(), Type: browser.NavigationOther})
		return goja.Undefined()
	})
	return loc
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func fragment(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.EscapedFragment()
}

func (p *page) storageObject(s *Storage) *goja.Object {
	vm := p.vm
	o := vm.NewObject()
	_ = o.DefineAccessorProperty("length", vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(s.Len())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = o.Set("key", func(call goja.FunctionCall) goja.Value {
		if k, ok := s.Key(int(call.Argument(0).ToInteger())); ok {
			return vm.ToValue(k)
		}
		return goja.Null()
	})
	_ = o.Set("getItem", func(call goja.FunctionCall) goja.Value {
		if v, ok := s.Get(call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("setItem", func(call goja.FunctionCall) goja.Value {
		s.Set(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = o.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		s.Remove(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = o.Set("clear", func(goja.FunctionCall) goja.Value {
		s.Clear()
		return goja.Undefined()
	})
	return o
}

func (p *page) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// String timers are not evaluated.
			return p.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Millisecond))
		if delay < 0 {
			delay = 0
		}
		p.nextTimer++
		t := &vtimer{id: p.nextTimer, due: p.clock + delay, fn: fn}
		if len(call.Arguments) > 2 {
			t.args = append([]goja.Value(nil), call.Arguments[2:]...)
		}
		if repeat {
			t.interval = delay
			if t.interval < minInterval {
				t.interval = minInterval
			}
			t.due = p.clock + t.interval
		}
		p.timers[t.id] = t
		return p.vm.ToValue(t.id)
	}
}

func (p *page) clearTimer(call goja.FunctionCall) goja.Value {
	delete(p.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

func (p *page) mutationObserver(call goja.ConstructorCall) *goja.Object {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(p.vm.NewTypeError("MutationObserver requires a callback"))
	}
	obs := &observer{callback: cb, self: call.This}
	_ = call.This.Set("observe", func(c goja.FunctionCall) goja.Value {
		node := p.nodeOf(c.Argument(0))
		if node == nil {
			panic(p.vm.NewTypeError("observe target is not a node"))
		}
		subtree := false
		if opts := c.Argument(1); !goja.IsUndefined(opts) && !goja.IsNull(opts) {
			if v := opts.ToObject(p.vm).Get("subtree"); v != nil {
				subtree = v.ToBoolean()
			}
		}
		if len(obs.targets) == 0 {
			p.observers = append(p.observers, obs)
		}
		obs.targets = append(obs.targets, observed{node: node, subtree: subtree})
		return goja.Undefined()
	})
	_ = call.This.Set("disconnect", func(goja.FunctionCall) goja.Value {
		obs.targets = nil
		for i, o := range p.observers {
			if o == obs {
				p.observers = append(p.observers[:i], p.observers[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	_ = call.This.Set("takeRecords", func(goja.FunctionCall) goja.Value { return p.vm.NewArray() })
	return nil
}

func (p *page) addListener(n *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		capture := captureFlag(p.vm, call.Argument(2))
		for _, l := range p.listeners[n][typ] {
			if l.value.SameAs(call.Argument(1)) && l.capture == capture {
				return goja.Undefined()
			}
		}
		if p.listeners[n] == nil {
			p.listeners[n] = map[string][]listener{}
		}
		p.listeners[n][typ] = append(p.listeners[n][typ], listener{fn: fn, value: call.Argument(1), capture: capture})
		return goja.Undefined()
	}
}

func (p *page) removeListener(n *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		capture := captureFlag(p.vm, call.Argument(2))
		ls := p.listeners[n][typ]
		for i, l := range ls {
			if l.value.SameAs(call.Argument(1)) && l.capture == capture {
				p.listeners[n][typ] = append(ls[:i], ls[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	}
}

func captureFlag(vm *goja.Runtime, v goja.Value) bool {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if obj, ok := v.(*goja.Object); ok {
		if c := obj.Get("capture"); c != nil {
			return c.ToBoolean()
		}
		return false
	}
	return v.ToBoolean()
}

// wrapAny maps the window sentinel to the global object.
func (p *page) wrapAny(n *html.Node) goja.Value {
	if n == p.window {
		return p.vm.GlobalObject()
	}
	return p.wrap(n)
}

func (p *page) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]interface{}, len(nodes))
	for i, n := range nodes {
		items[i] = p.wrap(n)
	}
	return p.vm.NewArray(items...)
}

func (p *page) nodeOf(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return p.nodes[obj]
}

// wrap returns the stable proxy for n.
func (p *page) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if o, ok := p.proxies[n]; ok {
		return o
	}
	vm := p.vm
	o := vm.NewObject()
	p.proxies[n] = o
	p.nodes[o] = n

	method := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = o.Set(name, fn)
	}
	getter := func(name string, get func() goja.Value, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = vm.ToValue(func(call goja.FunctionCall) goja.Value {
				set(call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = o.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value {
			return get()
		}), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}

	method("querySelector", func(call goja.FunctionCall) goja.Value {
		nodes := p.dom.QueryFrom(n, call.Argument(0).String())
		if len(nodes) == 0 {
			return goja.Null()
		}
		return p.wrap(nodes[0])
	})
	method("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return p.wrapAll(p.dom.QueryFrom(n, call.Argument(0).String()))
	})
	method("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return p.wrapAll(p.dom.ByTag(n, call.Argument(0).String()))
	})
	method("addEventListener", p.addListener(n))
	method("removeEventListener", p.removeListener(n))
	getter("textContent", func() goja.Value { return vm.ToValue(Text(n)) }, nil)

	if n.Type == html.DocumentNode {
		p.documentMembers(o, getter)
		return o
	}

	tag := strings.ToUpper(n.Data)
	_ = o.Set("tagName", tag)
	_ = o.Set("nodeName", tag)
	_ = o.Set("nodeType", 1)

	method("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := Attr(n, call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	method("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := Attr(n, call.Argument(0).String())
		return vm.ToValue(ok)
	})
	method("setAttribute", func(call goja.FunctionCall) goja.Value {
		p.dom.SetAttr(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	method("removeAttribute", func(call goja.FunctionCall) goja.Value {
		p.dom.RemoveAttr(n, call.Argument(0).String())
		return goja.Undefined()
	})
	method("remove", func(goja.FunctionCall) goja.Value {
		p.dom.Remove(n)
		return goja.Undefined()
	})
	getter("parentElement", func() goja.Value { return p.wrap(ParentElement(n)) }, nil)
	getter("id", func() goja.Value { v, _ := Attr(n, "id"); return vm.ToValue(v) }, nil)
	getter("className", func() goja.Value { v, _ := Attr(n, "class"); return vm.ToValue(v) }, nil)
	getter("href", func() goja.Value {
		v, ok := Attr(n, "href")
		if !ok {
			return vm.ToValue("")
		}
		return vm.ToValue(p.dom.Resolve(v))
	}, func(v goja.Value) { p.dom.SetAttr(n, "href", v.String()) })
	getter("src", func() goja.Value {
		v, ok := Attr(n, "src")
		if !ok {
			return vm.ToValue("")
		}
		return vm.ToValue(p.dom.Resolve(v))
	}, func(v goja.Value) { p.dom.SetAttr(n, "src", v.String()) })

	if IsMedia(n) {
		p.mediaMembers(n, method, getter)
	}
	return o
}

func (p *page) documentMembers(o *goja.Object, getter func(string, func() goja.Value, func(goja.Value))) {
	vm := p.vm
	_ = o.Set("nodeType", 9)
	_ = o.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		for _, n := range p.dom.ByTag(p.dom.Root(), "*") {
			if v, ok := Attr(n, "id"); ok && v == id {
				return p.wrap(n)
			}
		}
		return goja.Null()
	})
	getter("head", func() goja.Value { return p.wrap(p.dom.Head()) }, nil)
	getter("body", func() goja.Value { return p.wrap(p.dom.Body()) }, nil)
	getter("documentElement", func() goja.Value { return p.wrap(p.dom.first("html")) }, nil)
	getter("title", func() goja.Value { return vm.ToValue(p.dom.Title()) }, nil)
	getter("readyState", func() goja.Value { return vm.ToValue("complete") }, nil)
	getter("URL", func() goja.Value { return vm.ToValue(p.url.String()) }, nil)
	getter("cookie", func() goja.Value {
		return vm.ToValue(p.cookieHeader())
	}, func(v goja.Value) {
		p.setCookie(v.String())
	})
}

func (p *page) mediaMembers(n *html.Node, method func(string, func(goja.FunctionCall) goja.Value), getter func(string, func() goja.Value, func(goja.Value))) {
	vm := p.vm
	state := p.mediaState(n)
	method("play", func(goja.FunctionCall) goja.Value {
		if state.paused {
			state.paused = false
			p.dispatch(context.Background(), n, "play", nil)
		}
		return goja.Undefined()
	})
	method("pause", func(goja.FunctionCall) goja.Value {
		if !state.paused {
			state.paused = true
			p.dispatch(context.Background(), n, "pause", nil)
		}
		return goja.Undefined()
	})
	getter("currentSrc", func() goja.Value { return vm.ToValue(p.dom.MediaSource(n)) }, nil)
	getter("paused", func() goja.Value { return vm.ToValue(state.paused) }, nil)
	getter("currentTime", func() goja.Value { return vm.ToValue(state.currentTime) }, func(v goja.Value) {
		state.currentTime = v.ToFloat()
		p.dispatch(context.Background(), n, "timeupdate", nil)
	})
	getter("muted", func() goja.Value { return vm.ToValue(state.muted) }, func(v goja.Value) {
		state.muted = v.ToBoolean()
	})
}

func (p *page) mediaState(n *html.Node) *mediaState {
	s, ok := p.media[n]
	if !ok {
		_, autoplay := Attr(n, "autoplay")
		s = &mediaState{paused: !autoplay}
		p.media[n] = s
	}
	return s
}

func (p *page) cookieHeader() string {
	if p.jar == nil {
		return ""
	}
	cookies := p.jar.Cookies(p.url)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (p *page) setCookie(line string) {
	if p.jar == nil {
		return
	}
	c, err := http.ParseSetCookie(line)
	if err != nil {
		p.logger.Debug("Ignoring cookie", zap.String("page", p.url.String()), zap.Error(err))
		return
	}
	if c.Path == "" {
		c.Path = "/"
	}
	p.jar.SetCookies(p.url, []*http.Cookie{c})
}
