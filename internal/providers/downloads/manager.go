// Package downloads saves files the user asks for and reports progress
// into the session store.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/http/client"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

const (
	sniffLen     = 3072
	progressStep = 0.01
	fallbackName = "download"
)

var (
	// ErrInvalidURL is returned for URLs that cannot be downloaded.
	ErrInvalidURL = errors.New("downloads: invalid url")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("downloads: manager closed")
)

// Store is the part of the session store downloads write to.
type Store interface {
	AddDownload(name, rawURL string) string
	UpdateDownload(downloadID string, patch types.DownloadPatch)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTimeout bounds each download.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// Manager runs downloads in the background.
type Manager struct {
	client  *client.Client
	store   Store
	dir     string
	timeout time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics

	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	paths   map[string]string
	closed  bool
}

// NewManager creates a manager saving into dir.
func NewManager(c *client.Client, store Store, dir string, opts ...Option) *Manager {
	m := &Manager{
		client:  c,
		store:   store,
		dir:     dir,
		timeout: 30 * time.Minute,
		cancels: make(map[string]context.CancelFunc),
		paths:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Component("downloads")
	return m
}

// Start records a download and fetches it in the background. name may be
// empty, in which case it is taken from the URL. The returned id names
// the DownloadItem.
func (m *Manager) Start(ctx context.Context, rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	name = cleanName(name, u)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	downloadID := m.store.AddDownload(name, rawURL)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	m.cancels[downloadID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.finish(downloadID)
		m.run(dctx, downloadID, rawURL, name)
	}()
	return downloadID, nil
}

// Cancel stops a running download. It reports whether one was running.
func (m *Manager) Cancel(downloadID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[downloadID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Path returns where a completed download was saved.
func (m *Manager) Path(downloadID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.paths[downloadID]
	return p, ok
}

// Wait blocks until every running download has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels running downloads and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

func (m *Manager) finish(downloadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[downloadID]; ok {
		cancel()
		delete(m.cancels, downloadID)
	}
}

func (m *Manager) run(ctx context.Context, downloadID, rawURL, name string) {
	start := time.Now()
	written, dest, err := m.fetch(ctx, downloadID, rawURL, name)
	if err != nil {
		status := types.DownloadFailed
		m.store.UpdateDownload(downloadID, types.DownloadPatch{Status: &status})
		m.metrics.RecordDownload(string(status), written)
		m.logger.Warn("Download failed",
			zap.String("id", downloadID),
			logging.URL(rawURL),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	m.paths[downloadID] = dest
	m.mu.Unlock()

	status, progress, final := types.DownloadCompleted, 1.0, filepath.Base(dest)
	m.store.UpdateDownload(downloadID, types.DownloadPatch{Name: &final, Status: &status, Progress: &progress})
	m.metrics.RecordDownload(string(status), written)
	m.logger.Info("Download completed",
		zap.String("id", downloadID),
		zap.String("path", dest),
		zap.String("size", humanize.Bytes(uint64(written))),
		zap.Duration("took", time.Since(start)))
}

func (m *Manager) fetch(ctx context.Context, downloadID, rawURL, name string) (int64, string, error) {
	resp, err := m.client.Stream(ctx, rawURL)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, ".partial-*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	pw := &progressWriter{
		w:     tmp,
		total: resp.ContentLength,
		report: func(p float64) {
			m.store.UpdateDownload(downloadID, types.DownloadPatch{Progress: &p})
		},
	}
	written, err := io.Copy(pw, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, "", fmt.Errorf("write %s: %w", name, err)
	}

	if filepath.Ext(name) == "" {
		mt := mimetype.Detect(pw.head)
		if mt.Is("application/octet-stream") || mt.Is("text/plain") {
			mt = mimetype.Lookup(baseType(resp.Header.Get("Content-Type")))
		}
		if mt != nil {
			name += mt.Extension()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dest := uniquePath(m.dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return written, "", fmt.Errorf("save %s: %w", name, err)
	}
	return written, dest, nil
}

// progressWriter reports progress in steps of at least one percent and
// keeps the first bytes for type sniffing.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    float64
	head    []byte
	report  func(float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if need := sniffLen - len(p.head); need > 0 {
		if need > len(b) {
			need = len(b)
		}
		p.head = append(p.head, b[:need]...)
	}
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		progress := float64(p.written) / float64(p.total)
		if progress > 1 {
			progress = 1
		}
		if progress-p.last >= progressStep && progress < 1 {
			p.last = progress
			p.report(progress)
		}
	}
	return n, err
}

func baseType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

// cleanName strips directories from name, falling back to the last path
// segment of u.
func cleanName(name string, u *url.URL) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = path.Base(u.Path)
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "/", "..":
		return fallbackName
	}
	return name
}

// uniquePath returns dir/name, or dir/name (n).ext when taken.
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}
