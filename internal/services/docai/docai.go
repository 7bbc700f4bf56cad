// Package docai runs document AI prompts through OpenRouter: pulling tables
// out of extracted PDF text and cleaning up OCR output.
//
// OpenRouter exposes many model providers behind one OpenAI-compatible
// chat completions endpoint, so switching models is a config change.
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// maxInputChars bounds how much document text goes into one prompt.
const maxInputChars = 20000

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("OpenRouter API key not configured; set OPENROUTER_API_KEY")

// Service calls the model.
type Service struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new document AI service.
func New(apiKey, model string) *Service {
	return &Service{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Model returns the model requests are sent to.
func (s *Service) Model() string {
	return s.model
}

// Table is one table recovered from a document.
type Table struct {
	Title   string     `json:"title"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ExtractTables asks the model for every table in the text.
func (s *Service) ExtractTables(ctx context.Context, text string) ([]Table, error) {
	prompt := fmt.Sprintf(`Extract every table from the following document text.

**Important:** Respond with valid JSON in this exact format:
{
  "tables": [
    {"title": "Table title or empty", "headers": ["Col 1", "Col 2"], "rows": [["a", "b"]]}
  ]
}
Use an empty "tables" array if the document has no tables.

**Document:**
%s`, truncate(text))

	log.Printf("🤖 Extracting tables using %s", s.model)
	content, err := s.complete(ctx,
		"You convert document text into structured tables. You never invent values that are not in the text.",
		prompt)
	if err != nil {
		return nil, err
	}
	return parseTables(content)
}

// CleanText asks the model to repair OCR noise while keeping the wording.
func (s *Service) CleanText(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`The following text came from OCR of a scanned document.
Fix broken words, stray characters and line-wrap hyphenation. Keep the original
wording, order and paragraph breaks. Reply with the corrected text only.

%s`, truncate(text))

	log.Printf("🤖 Cleaning OCR text using %s", s.model)
	content, err := s.complete(ctx, "You are a careful proofreader of OCR output.", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (s *Service) complete(ctx context.Context, system, prompt string) (string, error) {
	if s.apiKey == "" {
		return "", ErrNotConfigured
	}

	jsonBody, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://github.com/Shimizu-Technology/pdf-desk-api")
	req.Header.Set("X-Title", "PDF Desk API")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenRouter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenRouter returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("OpenRouter error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return chatResp.Choices[0].Message.Content, nil
}

func truncate(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	return text[:maxInputChars] + "\n\n[Document truncated due to length...]"
}

// parseTables reads the model's JSON, tolerating a markdown fence or prose
// around the object.
func parseTables(content string) ([]Table, error) {
	var out struct {
		Tables []Table `json:"tables"`
	}
	if err := json.Unmarshal([]byte(content), &out); err == nil && out.Tables != nil {
		return out.Tables, nil
	}

	if obj := firstJSONObject(content); obj != "" {
		if err := json.Unmarshal([]byte(obj), &out); err == nil && out.Tables != nil {
			return out.Tables, nil
		}
	}
	return nil, fmt.Errorf("model response did not contain a tables object")
}

// firstJSONObject returns the first balanced {...} span in s, ignoring
// braces inside JSON strings.
func firstJSONObject(s string) string {
	start, depth := -1, 0
	inString, escaped := false, false
	for i, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
