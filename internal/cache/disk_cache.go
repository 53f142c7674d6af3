package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DiskCache implements GenericCache by storing one file per key under cacheDir.
// Entries older than ttl are treated as absent and removed on read.
type DiskCache struct {
	cacheDir string
	ttl      time.Duration
}

// NewDisk creates a new disk cache
func NewDisk(cacheDir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
		ttl:      ttl,
	}
}

// path maps a key to a file inside cacheDir
func (d *DiskCache) path(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	p := filepath.Join(d.cacheDir, key)
	rel, err := filepath.Rel(d.cacheDir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes cache folder", ErrInvalidKey, key)
	}
	return p, nil
}

// Get retrieves cached data if it exists and is not expired
func (d *DiskCache) Get(key string) ([]byte, bool) {
	cachePath, err := d.path(key)
	if err != nil {
		return nil, false
	}

	info, err := os.Stat(cachePath)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > d.ttl {
		if err := os.Remove(cachePath); err != nil {
			logrus.Errorf("Failed to remove expired cache file %s: %v", cachePath, err)
		}
		return nil, false
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set stores data in the cache
func (d *DiskCache) Set(key string, data []byte) error {
	cachePath, err := d.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return err
	}

	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}

// Remove deletes the file stored for key
func (d *DiskCache) Remove(key string) {
	cachePath, err := d.path(key)
	if err != nil {
		return
	}
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		logrus.Errorf("Failed to remove cache file %s: %v", cachePath, err)
	}
}

// Clear deletes every cached file and recreates the cache directory
func (d *DiskCache) Clear() {
	if err := os.RemoveAll(d.cacheDir); err != nil {
		logrus.Errorf("Failed to clear cache directory %s: %v", d.cacheDir, err)
		return
	}
	if err := d.Init(); err != nil {
		logrus.Errorf("Failed to recreate cache directory %s: %v", d.cacheDir, err)
	}
}

// Keys lists the keys of every cached file, expired ones included
func (d *DiskCache) Keys() []string {
	var keys []string
	err := filepath.WalkDir(d.cacheDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.cacheDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Errorf("Failed to list cache directory %s: %v", d.cacheDir, err)
	}
	return keys
}

// Init ensures the cache directory exists
func (d *DiskCache) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

var (
	_ GenericCache = (*DiskCache)(nil)
	_ KeyLister    = (*DiskCache)(nil)
)
