package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	plainExt      = ".json"
	compressedExt = ".json.zst"
)

// File stores each key as a file under a directory. Writes go through a
// temp file and rename so a crash never leaves a torn blob behind.
type File struct {
	dir      string
	compress bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.Mutex
}

// NewFile opens (creating if needed) a file-backed store rooted at dir.
func NewFile(dir string, compress bool) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &File{dir: dir, compress: compress, encoder: enc, decoder: dec}, nil
}

// Get reads the blob for key. A compressed blob wins over a plain one.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key, true))
	if err == nil {
		out, derr := f.decoder.DecodeAll(data, nil)
		if derr != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, derr)
		}
		return out, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err = os.ReadFile(f.path(key, false))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set atomically replaces the blob for key.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	payload := value
	if f.compress {
		payload = f.encoder.EncodeAll(value, nil)
	}

	tmp, err := os.CreateTemp(f.dir, ".kv-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path(key, f.compress)); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}

	// Drop the other encoding so Get cannot read a stale copy.
	stale := f.path(key, !f.compress)
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Delete removes both encodings of key.
func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, compressed := range []bool{true, false} {
		if err := os.Remove(f.path(key, compressed)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Rename moves both encodings of from to to without reading them, so a
// blob that no longer decompresses can still be moved aside.
func (f *File) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	moved := false
	for _, compressed := range []bool{true, false} {
		src := f.path(from, compressed)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if !moved {
			for _, c := range []bool{true, false} {
				if err := os.Remove(f.path(to, c)); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
		}
		if err := os.Rename(src, f.path(to, compressed)); err != nil {
			return fmt.Errorf("rename %s: %w", from, err)
		}
		moved = true
	}
	if !moved {
		return ErrNotFound
	}
	return nil
}

// Keys lists stored keys in sorted order.
func (f *File) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		var base string
		switch {
		case strings.HasSuffix(name, compressedExt):
			base = strings.TrimSuffix(name, compressedExt)
		case strings.HasSuffix(name, plainExt):
			base = strings.TrimSuffix(name, plainExt)
		default:
			continue
		}
		key, err := url.PathUnescape(base)
		if err != nil {
			continue
		}
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the codec resources.
func (f *File) Close() error {
	f.encoder.Close()
	f.decoder.Close()
	return nil
}

func (f *File) path(key string, compressed bool) string {
	ext := plainExt
	if compressed {
		ext = compressedExt
	}
	return filepath.Join(f.dir, url.PathEscape(key)+ext)
}
