package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/igorvboas/medcall-ai-sub003/internal/audio"
)

// Client sends finished phrases to a Whisper-style HTTP backend as
// multipart WAV uploads.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	semaphore  chan struct{}
	log        *slog.Logger
}

type backendResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments,omitempty"`
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transcription: base URL cannot be empty")
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrent),
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		log:       log.With("component", "transcription-client"),
	}, nil
}

// Transcribe encodes the phrase as a mono PCM16 WAV and posts it to the
// backend. Errors are mapped onto ErrInvalidAudio and ErrBackendUnavailable
// so callers can decide between dropping the phrase and falling back.
func (c *Client) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Samples) == 0 || req.SampleRate <= 0 {
		return Result{}, &BackendError{Message: "empty audio request", Err: ErrInvalidAudio}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, &BackendError{Message: "rate limit wait aborted", Err: ErrBackendUnavailable}
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return Result{}, &BackendError{Message: "concurrency wait aborted", Err: ErrBackendUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, contentType, err := c.buildMultipart(req)
	if err != nil {
		return Result{}, &BackendError{Message: err.Error(), Err: ErrInvalidAudio}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("transcription request failed", "error", err, "elapsed", time.Since(start))
		return Result{}, &BackendError{Message: err.Error(), Err: ErrBackendUnavailable}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &BackendError{Message: "read response body: " + err.Error(), Err: ErrBackendUnavailable}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, c.statusError(resp.StatusCode, respBody)
	}

	var parsed backendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, &BackendError{Status: resp.StatusCode, Message: "malformed response JSON", Err: ErrBackendUnavailable}
	}

	result := Result{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: confidenceFromSegments(parsed),
		Model:      c.cfg.Model,
		Source:     SourceBackend,
	}
	c.log.Debug("phrase transcribed",
		"duration", req.Duration(),
		"elapsed", time.Since(start),
		"confidence", result.Confidence)
	return result, nil
}

func (c *Client) statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return &BackendError{Status: status, Message: msg, Err: ErrInvalidAudio}
	default:
		return &BackendError{Status: status, Message: msg, Err: ErrBackendUnavailable}
	}
}

func (c *Client) buildMultipart(req Request) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(audio.Float32ToInt16(req.Samples), req.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("encode wav: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "phrase.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.cfg.Model,
		"response_format": "verbose_json",
	}
	if c.cfg.Language != "" {
		fields["language"] = c.cfg.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// confidenceFromSegments turns Whisper's per-segment avg_logprob into a
// single confidence in [0, 1]. Backends that omit segments get a flat 0.9.
func confidenceFromSegments(resp backendResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0.9
	}
	var sum float64
	for _, seg := range resp.Segments {
		sum += seg.AvgLogprob
	}
	conf := math.Exp(sum / float64(len(resp.Segments)))
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

var _ Transcriber = (*Client)(nil)
