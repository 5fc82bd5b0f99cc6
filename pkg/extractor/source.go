package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JiscPER/jper-sub000/pkg/httpclient"
)

// ErrDocumentNotFound is returned when the package has no metadata document
var ErrDocumentNotFound = errors.New("package metadata document not found")

// DocumentSource returns a package's metadata document decoded from JSON
type DocumentSource interface {
	Document(ctx context.Context, notificationID, packagingFormat string) (any, error)
}

// HTTPSource fetches metadata documents from the package store over HTTP
type HTTPSource struct {
	client  *httpclient.Client
	baseURL string
}

// NewHTTPSource creates a source reading {baseURL}/packages/{id}/metadata?format={format}
func NewHTTPSource(client *httpclient.Client, baseURL string) *HTTPSource {
	return &HTTPSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Document implements DocumentSource
func (s *HTTPSource) Document(ctx context.Context, notificationID, packagingFormat string) (any, error) {
	u := fmt.Sprintf("%s/packages/%s/metadata?format=%s",
		s.baseURL, url.PathEscape(notificationID), url.QueryEscape(packagingFormat))

	resp, err := s.client.Get(ctx, u, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDocumentNotFound
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("package store returned %d", resp.StatusCode)
	}

	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding metadata document: %w", err)
	}
	return doc, nil
}
