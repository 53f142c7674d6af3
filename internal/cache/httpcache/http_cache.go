package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/memory-cache-proxy/internal/cache"
)

// headers that take part in the cache key
var keyHeaders = []string{"Accept", "Accept-Encoding", "Accept-Language", "Content-Type"}

// HTTPCache stores serialized HTTP responses in a GenericCache backend.
type HTTPCache struct {
	cache cache.GenericCache
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:8]
}

// keyStem returns host/path/METHOD[_q<queryhash>], the part of the key shared
// by every header and body variant of a request.
func keyStem(request *http.Request) (string, error) {
	if request.URL == nil {
		return "", fmt.Errorf("%w: request has no URL", cache.ErrInvalidKey)
	}

	host := request.URL.Host
	if host == "" {
		host = request.Host
	}
	host = strings.TrimSuffix(strings.TrimSuffix(host, ":80"), ":443")
	if host == "" {
		return "", fmt.Errorf("%w: request has no host", cache.ErrInvalidKey)
	}

	pathParts := []string{host}
	if request.URL.Path != "" && request.URL.Path != "/" {
		pathParts = append(pathParts, strings.Trim(request.URL.Path, "/"))
	}

	filename := request.Method
	if request.URL.RawQuery != "" {
		filename += "_q" + shortHash([]byte(request.URL.RawQuery))
	}
	pathParts = append(pathParts, filename)

	return filepath.ToSlash(filepath.Join(pathParts...)), nil
}

// isVariant reports whether key was generated for a request with the given stem
func isVariant(key, stem string) bool {
	rest, ok := strings.CutPrefix(key, stem)
	if !ok {
		return false
	}
	return rest == ".bin" || strings.HasPrefix(rest, "_h") || strings.HasPrefix(rest, "_b")
}

// GenerateKey builds a canonical key from the URL, method, selected headers and body.
// The request body is read and restored.
func GenerateKey(request *http.Request) (string, error) {
	// host/path/METHOD[_q<queryhash>][_h<headershash>][_b<bodyhash>].bin
	key, err := keyStem(request)
	if err != nil {
		return "", err
	}

	headersStr := ""
	for _, k := range keyHeaders {
		if v, ok := request.Header[k]; ok {
			headersStr += k + ":" + strings.Join(v, ",") + "\n"
		}
	}
	if headersStr != "" {
		key += "_h" + shortHash([]byte(headersStr))
	}

	if request.Body != nil && request.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(request.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		if err := request.Body.Close(); err != nil {
			return "", fmt.Errorf("failed to close request body: %w", err)
		}
		request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		if len(bodyBytes) > 0 {
			key += "_b" + shortHash(bodyBytes)
		}
	}

	return key + ".bin", nil
}

// SetReq caches resp under the key derived from request.
func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response) error {
	requestKey, err := GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.SetKey(requestKey, resp)
}

// SetKey caches resp under requestKey. The response body is restored.
// Errors from the backend, including cache.ErrEntryTooLarge, are wrapped.
func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	logrus.Debugf("Stored %d bytes for %s", len(data), requestKey)
	return nil
}

// GetReq returns the cached response for request, or nil on a miss.
func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	requestKey, err := GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

// GetKey returns the cached response stored under requestKey, or nil on a miss.
// Undecodable entries are dropped from the backend.
func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, ok := d.cache.Get(requestKey)
	if !ok {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		d.cache.Remove(requestKey)
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// RemoveReq drops every cached variant of request, whatever key headers or body
// the stored requests carried, and returns how many entries went away.
// Backends that cannot list their keys only lose the exact headerless variant.
func (d *HTTPCache) RemoveReq(req *http.Request) (int, error) {
	stem, err := keyStem(req)
	if err != nil {
		return 0, fmt.Errorf("failed to generate cache key: %w", err)
	}

	lister, ok := d.cache.(cache.KeyLister)
	if !ok {
		key := stem + ".bin"
		if _, found := d.cache.Get(key); !found {
			return 0, nil
		}
		d.cache.Remove(key)
		return 1, nil
	}

	removed := 0
	for _, key := range lister.Keys() {
		if isVariant(key, stem) {
			d.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}
