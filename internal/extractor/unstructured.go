package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// unstructuredTimeout bounds one text-extraction call. Large PDFs take a
// while server-side.
const unstructuredTimeout = 120 * time.Second

// UnstructuredClient talks to the binary text-extraction service: document
// bytes go out as a multipart POST, extracted text elements come back as a
// JSON array.
type UnstructuredClient struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewUnstructuredClient builds a client for the given endpoint.
func NewUnstructuredClient(endpoint string, logger arbor.ILogger) *UnstructuredClient {
	return &UnstructuredClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: unstructuredTimeout},
		logger:   logger,
	}
}

type unstructuredElement struct {
	Text     string `json:"text"`
	Metadata struct {
		Filename string `json:"filename"`
	} `json:"metadata"`
}

// ExtractText submits document bytes and returns the text elements joined
// with a space, plus the filename the service reports on the first element.
func (c *UnstructuredClient) ExtractText(ctx context.Context, filename string, data []byte) (string, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", "", fmt.Errorf("failed to write document bytes: %w", err)
	}
	if err := writer.WriteField("strategy", "auto"); err != nil {
		return "", "", fmt.Errorf("failed to write strategy field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("failed to finalise multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to call text extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("text extractor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var elements []unstructuredElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return "", "", fmt.Errorf("failed to decode extractor response: %w", err)
	}
	if len(elements) == 0 {
		return "", "", nil
	}

	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		texts = append(texts, el.Text)
	}
	return strings.Join(texts, " "), elements[0].Metadata.Filename, nil
}
