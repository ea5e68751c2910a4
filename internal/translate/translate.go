package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTargetLang = "en"
	requestTimeout    = 5 * time.Second
)

type Translator interface {
	Translate(ctx context.Context, text, targetLang string) string
}

// Client calls a MyMemory compatible translation endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *log.Logger
}

func NewClient(baseURL string, logger *log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logger,
	}
}

type apiResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus int `json:"responseStatus"`
}

// Translate returns text translated into targetLang. When the service fails
// the original text is returned unchanged.
func (c *Client) Translate(ctx context.Context, text, targetLang string) string {
	if text == "" {
		return text
	}
	if targetLang == "" {
		targetLang = DefaultTargetLang
	}

	translated, err := c.translate(ctx, text, targetLang)
	if err != nil {
		c.log.Printf("translate to %q: %v", targetLang, err)
		return text
	}
	return translated
}

func (c *Client) translate(ctx context.Context, text, targetLang string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("q", text)
	q.Set("langpair", "auto|"+targetLang)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.ResponseStatus != 0 && body.ResponseStatus != http.StatusOK {
		return "", fmt.Errorf("service status %d", body.ResponseStatus)
	}
	if body.ResponseData.TranslatedText == "" {
		return "", fmt.Errorf("empty translation")
	}

	return body.ResponseData.TranslatedText, nil
}
