package vision

import (
	"context"
	"net/http"
	"strings"
)

// Restorer is an HTTP client for the face restoration server. The stage is
// optional; callers fall back to the unrestored crop on any error.
type Restorer struct {
	baseURL string
	client  *http.Client
}

// NewRestorer creates a new restorer client.
func NewRestorer(baseURL string) *Restorer {
	return &Restorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Restore enhances a low-quality face crop. The response body is the
// restored image itself.
func (r *Restorer) Restore(ctx context.Context, cropData []byte) ([]byte, error) {
	return postMultipartImage(ctx, r.client, r.baseURL+"/restore", cropData)
}
