package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/pion/opus/pkg/oggreader"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

const googleEndpoint = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleProvider calls the Cloud Speech-to-Text v1 REST API with an API key.
type GoogleProvider struct {
	apiKey   string
	language string
	client   *http.Client
	endpoint string
}

func NewGoogleProvider(cfg config.GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google API key not set", ErrNotConfigured)
	}
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	return &GoogleProvider{
		apiKey:   cfg.APIKey,
		language: lang,
		client:   &http.Client{},
		endpoint: googleEndpoint,
	}, nil
}

type recognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz,omitempty"`
	LanguageCode    string `json:"languageCode"`
	Model           string `json:"model"`
	AutoPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the file inline. WAV goes up as LINEAR16 and Ogg as
// OGG_OPUS; neither is re-encoded.
func (g *GoogleProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	var req recognizeRequest
	req.Config = recognitionConfig{
		LanguageCode:    g.language,
		Model:           "default",
		AutoPunctuation: true,
	}
	req.Config.Encoding, req.Config.SampleRateHertz = googleEncoding(filePath)
	req.Audio.Content = base64.StdEncoding.EncodeToString(data)

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("google: encode request: %w", err)
	}
	u := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	L_debug("stt: google request", "encoding", req.Config.Encoding, "rate", req.Config.SampleRateHertz, "bytes", len(data))
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: google: %w", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: google: read response: %w", ErrTranscriptionFailed, err)
	}
	var out recognizeResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("%w: google: %s", ErrTranscriptionFailed, out.Error.Message)
		}
		return "", fmt.Errorf("%w: google: HTTP %d", ErrTranscriptionFailed, resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: google: decode response: %w", ErrTranscriptionFailed, decodeErr)
	}

	parts := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, r.Alternatives[0].Transcript)
		}
	}
	return strings.Join(parts, " "), nil
}

// googleEncoding picks the RecognitionConfig encoding and, where the
// container carries one, the sample rate. Zero lets the API detect it.
func googleEncoding(path string) (string, int) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "LINEAR16", headerRate(path, wavRate, targetSampleRate)
	case ".mp3":
		return "MP3", 0
	case ".flac":
		return "FLAC", 0
	default:
		return "OGG_OPUS", headerRate(path, oggRate, 48000)
	}
}

func headerRate(path string, read func(io.Reader) int, fallback int) int {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()
	if rate := read(f); rate > 0 {
		return rate
	}
	return fallback
}

func wavRate(r io.Reader) int {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return 0
	}
	dec := wav.NewDecoder(rs)
	dec.ReadInfo()
	if dec.Err() != nil {
		return 0
	}
	return int(dec.SampleRate)
}

func oggRate(r io.Reader) int {
	_, header, err := oggreader.NewWith(r)
	if err != nil {
		return 0
	}
	return int(header.SampleRate)
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) Close() error { return nil }
