// Package speech holds the narrow clients for the external speech
// services: transcription of captured utterances and speech rendering for
// playback. Both sit behind interfaces so the engine can run against
// fakes.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxbridge/phone-agent/audio"
)

type Transcriber interface {
	// Transcribe turns one utterance of raw 16-bit mono PCM into text.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

type Synthesizer interface {
	// Speak renders text with the given voice and returns a playable
	// URL or local path.
	Speak(ctx context.Context, text, voiceID string) (string, error)
}

// HTTPTranscriber posts utterances as WAV uploads to a whisper-style
// inference endpoint.
type HTTPTranscriber struct {
	log  *slog.Logger
	url  string
	http *http.Client
}

func NewHTTPTranscriber(log *slog.Logger, url string) *HTTPTranscriber {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPTranscriber{
		log:  log,
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio.PCMToWAVReader(pcm, sampleRate)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("transcription reply: %w", err)
	}
	return parsed.Text, nil
}

// HTTPSynthesizer asks the speech service to render text and returns the
// URL of the rendered audio.
type HTTPSynthesizer struct {
	log  *slog.Logger
	url  string
	http *http.Client
}

func NewHTTPSynthesizer(log *slog.Logger, url string) *HTTPSynthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPSynthesizer{
		log:  log,
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type speakResponse struct {
	URL string `json:"url"`
}

func (s *HTTPSynthesizer) Speak(ctx context.Context, text, voiceID string) (string, error) {
	body, err := json.Marshal(speakRequest{Text: text, Voice: voiceID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("speech status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("speech reply: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("speech reply missing url")
	}
	return parsed.URL, nil
}
