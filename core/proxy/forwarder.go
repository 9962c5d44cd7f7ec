package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"talon-console/config"
	"talon-console/core/utils"
)

// ErrKeyRejected reports that the upstream refused a candidate API key with
// an authentication error during rotation.
var ErrKeyRejected = errors.New("upstream rejected the api key")

const maxUpstreamBody = 16 << 20

// Result is what a forwarded call produces. Transport failures never
// surface as errors; OK=false carries the failure kind instead.
type Result struct {
	OK          bool
	Status      int
	ContentType string
	Body        []byte
	Kind        ErrorKind
	Message     string
}

// Forwarder relays authorized requests to the external framework API with
// the shared bearer credential. The credential is a single runtime-rotatable
// cell; reads and writes go through the mutex so an in-flight forward uses
// whichever value was current when it started.
type Forwarder struct {
	baseURL    string
	healthPath string
	client     *http.Client
	logger     *utils.Logger

	mu     sync.RWMutex
	apiKey string
}

func NewForwarder(cfg config.UpstreamConfig, logger *utils.Logger) *Forwarder {
	return &Forwarder{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		healthPath: cfg.HealthPath,
		client:     &http.Client{Timeout: cfg.Timeout()},
		logger:     logger,
		apiKey:     strings.TrimSpace(cfg.APIKey),
	}
}

// APIKey returns the credential currently in use.
func (f *Forwarder) APIKey() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.apiKey
}

func (f *Forwarder) setAPIKey(key string) {
	f.mu.Lock()
	f.apiKey = key
	f.mu.Unlock()
}

// Forward relays one call upstream. Status and body of upstream responses,
// 2xx or not, pass through verbatim.
func (f *Forwarder) Forward(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) Result {
	target := f.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Result{Status: http.StatusBadGateway, Kind: KindError, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+f.APIKey())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := classifyError(err)
		if f.logger != nil {
			f.logger.Errorf("upstream %s %s failed: %s", method, path, kind)
		}
		return Result{
			Status:  http.StatusBadGateway,
			Kind:    kind,
			Message: fmt.Sprintf("upstream unreachable: %s", kind),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		kind := classifyError(err)
		return Result{
			Status:  http.StatusBadGateway,
			Kind:    kind,
			Message: fmt.Sprintf("upstream read failed: %s", kind),
		}
	}
	return Result{
		OK:          true,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}
}

// Rotate swaps the shared credential for all subsequent forwards. The new
// key is probed against the upstream first: an authentication rejection
// rolls back to the previous key, while an unreachable upstream keeps the
// new key since the outage may be unrelated to the credential.
func (f *Forwarder) Rotate(ctx context.Context, newKey string) error {
	newKey = strings.TrimSpace(newKey)
	if newKey == "" {
		return errors.New("empty api key")
	}
	previous := f.APIKey()
	f.setAPIKey(newKey)

	status, err := f.probe(ctx, newKey)
	if err != nil {
		if f.logger != nil {
			f.logger.Printf("key rotation: upstream unreachable (%s), keeping new key", classifyError(err))
		}
		return nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		f.setAPIKey(previous)
		return ErrKeyRejected
	}
	if f.logger != nil {
		f.logger.Printf("upstream api key rotated")
	}
	return nil
}

// Probe issues a credentialed request against the upstream health path and
// returns the raw status code.
func (f *Forwarder) Probe(ctx context.Context) (int, error) {
	return f.probe(ctx, f.APIKey())
}

func (f *Forwarder) probe(ctx context.Context, key string) (int, error) {
	target := f.baseURL + "/" + strings.TrimLeft(f.healthPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// Timeout exposes the client budget so callers can bound probe contexts.
func (f *Forwarder) Timeout() time.Duration {
	return f.client.Timeout
}
