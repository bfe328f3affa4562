package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/stt"
)

const dialTimeout = 500 * time.Millisecond

// Client talks to a worker over its unix socket.
type Client struct {
	socket string
	http   *http.Client
}

// NewClient creates a client for the socket in cfg.
func NewClient(cfg config.WorkerConfig) *Client {
	socket := cfg.Socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, "unix", socket)
		},
		DisableKeepAlives: true,
	}
	return &Client{
		socket: socket,
		http:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

// Health queries GET /health. Any failure to reach the worker wraps ErrUnavailable.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://worker/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("worker: decode health: %w", err)
	}
	return h, nil
}

// Transcribe asks the worker to transcribe path. Worker-side errors come
// back as the stt sentinel named by the response kind.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(TranscribeRequest{Path: abs})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://worker/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("worker: read response: %w", err)
	}
	var out TranscribeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: worker returned HTTP %d", stt.ErrTranscriptionFailed, resp.StatusCode)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: worker: %s", errorOf(out.Kind), out.Error)
	}
	return out.Text, nil
}

// Provider is the "daemon" stt provider: it uses the worker when one is
// running and a local provider otherwise.
type Provider struct {
	client   *Client
	newLocal func() (stt.Provider, error)

	mu    sync.Mutex
	local stt.Provider
}

// NewProvider creates a worker-backed provider whose fallback is the
// configured local provider, built on first use.
func NewProvider(cfg *config.Config) *Provider {
	sttCfg := cfg.STT
	return &Provider{
		client: NewClient(cfg.Worker),
		newLocal: func() (stt.Provider, error) {
			return stt.New(sttCfg.Fallback, sttCfg)
		},
	}
}

func (p *Provider) Transcribe(ctx context.Context, path string) (string, error) {
	text, err := p.client.Transcribe(ctx, path)
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return text, err
	}

	L_info("worker: not reachable, transcribing locally", "socket", p.client.socket, "error", err)
	local, err := p.fallback()
	if err != nil {
		return "", err
	}
	return local.Transcribe(ctx, path)
}

func (p *Provider) fallback() (stt.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		local, err := p.newLocal()
		if err != nil {
			return nil, err
		}
		p.local = local
	}
	return p.local, nil
}

func (p *Provider) Name() string {
	return "daemon"
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local != nil {
		return p.local.Close()
	}
	return nil
}

// Resolve returns the provider named by cfg.STT.Provider, including "daemon".
func Resolve(cfg *config.Config) (stt.Provider, error) {
	if cfg.STT.Provider == "daemon" {
		return NewProvider(cfg), nil
	}
	return stt.New(cfg.STT.Provider, cfg.STT)
}
