// Package vision wraps the external inference operators: face detection,
// embedding extraction and face restoration. All three are HTTP sidecars
// consuming multipart image uploads and returning JSON.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

const (
	defaultExtractorURL   = "http://localhost:8000"
	defaultExtractorModel = "facenet512" // model name for reference only
)

// Face is one detected face region. Crop carries the aligned face image
// (JPEG) so it can be restored and re-embedded independently.
type Face struct {
	Index    int       `json:"face_index"`
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore float64   `json:"det_score"`
	Crop     []byte    `json:"crop"`
}

// detectResponse represents the response from the detection endpoint.
type detectResponse struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// embedResponse represents the response from the embedding endpoint.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Extractor is an HTTP client for the face detection and embedding server.
type Extractor struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewExtractor creates a new extractor client.
func NewExtractor(baseURL, model string) *Extractor {
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}
	if model == "" {
		model = defaultExtractorModel
	}
	return &Extractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Model returns the embedding model name being used.
func (e *Extractor) Model() string {
	return e.model
}

// DetectFaces detects faces in a photo and returns their regions and crops.
// Zero detected faces is a valid empty result, not an error.
func (e *Extractor) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	body, err := postMultipartImage(ctx, e.client, e.baseURL+"/detect/face", imageData)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return resp.Faces, nil
}

// Embed computes the identity embedding for a single face crop.
func (e *Extractor) Embed(ctx context.Context, cropData []byte) ([]float32, error) {
	body, err := postMultipartImage(ctx, e.client, e.baseURL+"/embed/face", cropData)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return resp.Embedding, nil
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func postMultipartImage(ctx context.Context, client *http.Client, url string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
