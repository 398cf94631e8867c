package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"qsearch/internal/pipeline"
)

// SourceType values carried in ingestion tasks.
const (
	TypeURL  = "url"
	TypeFile = "file"
)

var supportedContentTypes = map[string]bool{
	"text/plain":             true,
	"text/markdown":          true,
	"text/html":              true,
	"application/json":       true,
	"application/xml":        true,
	"text/xml":               true,
	"application/x-markdown": true,
	"text/x-markdown":        true,
}

// Fetcher acquires raw document bytes from a URL or a staged upload.
// Network failures and 5xx responses are retryable acquisition errors;
// 4xx responses and unsupported content types are not.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

func NewFetcher(client *http.Client, maxSizeBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxSize: maxSizeBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, source, sourceType string) ([]byte, error) {
	switch sourceType {
	case TypeURL:
		return f.fetchURL(ctx, source)
	case TypeFile:
		return f.readStaged(source)
	default:
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, false,
			fmt.Errorf("unsupported source type %q", sourceType))
	}
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, false, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, retryable,
			fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode))
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && !supportedType(mediaType) {
			return nil, pipeline.NewStageError(pipeline.KindAcquisition, false,
				fmt.Errorf("fetch %s: unsupported content type %q", url, mediaType))
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, true, err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, false,
			fmt.Errorf("fetch %s: document exceeds %d bytes", url, f.maxSize))
	}
	return body, nil
}

func (f *Fetcher) readStaged(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// A missing staged file will not appear on retry.
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, false, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, pipeline.NewStageError(pipeline.KindAcquisition, false,
			fmt.Errorf("read %s: document exceeds %d bytes", path, f.maxSize))
	}
	return data, nil
}

func supportedType(mediaType string) bool {
	if supportedContentTypes[mediaType] {
		return true
	}
	return strings.HasPrefix(mediaType, "text/")
}

var _ pipeline.Fetcher = (*Fetcher)(nil)
