package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

// Client fala com o serviço de nuvem. Todas as rotas usam Bearer.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout:   30 * time.Second,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// StatusError é uma resposta fora do esperado.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Health: GET /health com timeout curto; qualquer coisa != 200 é offline.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.do(ctx, "health", http.MethodGet, "/health", nil, http.StatusOK)
	return err
}

func (c *Client) PostAlert(ctx context.Context, alert core.Alert) error {
	_, err := c.do(ctx, "alert", http.MethodPost, "/api/alerts", alert, http.StatusOK, http.StatusCreated)
	return err
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
}

// UploadURL pede uma URL pré-assinada para filename.
func (c *Client) UploadURL(ctx context.Context, filename string) (string, error) {
	body, err := c.do(ctx, "upload-url", http.MethodPost, "/api/evidence/upload-url",
		uploadURLRequest{Filename: filename}, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	var resp uploadURLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("upload-url: erro ao parsear JSON: %w", err)
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("upload-url: resposta sem upload_url")
	}
	return resp.UploadURL, nil
}

// PutObject envia os bytes crus para uma URL pré-assinada (sem Bearer).
func (c *Client) PutObject(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put: erro ao criar request: %w", err)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &StatusError{Op: "put", Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// EvidenceConfirmation é o que vai em POST /api/evidence/confirm.
type EvidenceConfirmation struct {
	DetectionID string           `json:"detection_id"`
	CameraID    string           `json:"camera_id"`
	SiteID      string           `json:"site_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Violations  []core.Violation `json:"violations"`
	SafetyScore float64          `json:"safety_score"`
	FileHash    string           `json:"file_hash"`
	Redacted    bool             `json:"redacted"`
	ObjectKey   string           `json:"object_key"`
	ObjectURL   string           `json:"object_url,omitempty"`
}

func (c *Client) ConfirmEvidence(ctx context.Context, conf EvidenceConfirmation) error {
	_, err := c.do(ctx, "confirm", http.MethodPost, "/api/evidence/confirm", conf, http.StatusOK, http.StatusCreated)
	return err
}

func (c *Client) PostMetric(ctx context.Context, metric json.RawMessage) error {
	_, err := c.do(ctx, "metric", http.MethodPost, "/api/metrics", metric, http.StatusOK, http.StatusCreated)
	return err
}

func (c *Client) SendHeartbeat(ctx context.Context, status any) error {
	_, err := c.do(ctx, "heartbeat", http.MethodPost, "/api/edge/heartbeat", status, http.StatusOK)
	return err
}

// PolicyUpdate é o documento opcional de /api/policies/updates.
type PolicyUpdate struct {
	AlertThreshold       string                 `json:"alert_threshold,omitempty"`
	AlertCooldownSeconds *int                   `json:"alert_cooldown_seconds,omitempty"`
	Zones                map[string][]core.Zone `json:"zones,omitempty"` // por camera_id
}

// GetPolicyUpdates devolve nil, nil quando não há atualização (404/204/corpo vazio).
func (c *Client) GetPolicyUpdates(ctx context.Context) (*PolicyUpdate, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/policies/updates", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policies: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("policies: erro ao ler resposta: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Op: "policies", Status: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}
	var pu PolicyUpdate
	if err := json.Unmarshal(body, &pu); err != nil {
		return nil, fmt.Errorf("policies: erro ao parsear JSON: %w", err)
	}
	return &pu, nil
}

// CloseIdleConnections fecha o pool do transport.
func (c *Client) CloseIdleConnections() {
	c.HTTP.CloseIdleConnections()
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		var data []byte
		switch p := payload.(type) {
		case json.RawMessage:
			data = p
		default:
			var err error
			data, err = json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("erro ao serializar payload: %w", err)
			}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, okStatus ...int) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: erro ao ler resposta: %w", op, err)
	}
	for _, s := range okStatus {
		if resp.StatusCode == s {
			return body, nil
		}
	}
	return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
}
