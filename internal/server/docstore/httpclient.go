package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// HTTPClient talks to the document-store gateway over its REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) fileURL(tenantID, path string) string {
	return fmt.Sprintf("%s/tenants/%s/files/%s",
		c.baseURL, url.PathEscape(tenantID), url.PathEscape(path))
}

// fileDTO mirrors the gateway's file resource.
type fileDTO struct {
	ID           string    `json:"id"`
	SiteID       string    `json:"siteId"`
	SiteName     string    `json:"siteName"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Extension    string    `json:"extension"`
	SizeBytes    int64     `json:"sizeBytes"`
	OwnerID      string    `json:"ownerId"`
	OwnerEmail   string    `json:"ownerEmail"`
	OwnerName    string    `json:"ownerName"`
	LastModified time.Time `json:"lastModified"`
	LastAccessed time.Time `json:"lastAccessed"`
}

func (c *HTTPClient) EnumerateFilesForSite(ctx context.Context, tenantID, siteID string) ([]*models.FileRecord, error) {
	u := fmt.Sprintf("%s/tenants/%s/sites/%s/files",
		c.baseURL, url.PathEscape(tenantID), url.PathEscape(siteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enumerate site %s: %w", siteID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var dtos []fileDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	out := make([]*models.FileRecord, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, &models.FileRecord{
			ID:            d.ID,
			TenantID:      tenantID,
			SiteID:        d.SiteID,
			SiteName:      d.SiteName,
			Path:          d.Path,
			Name:          d.Name,
			Extension:     d.Extension,
			SizeBytes:     d.SizeBytes,
			OwnerID:       d.OwnerID,
			OwnerEmail:    d.OwnerEmail,
			OwnerName:     d.OwnerName,
			LastModified:  d.LastModified,
			LastAccessed:  d.LastAccessed,
			ArchiveStatus: models.FileActive,
		})
	}
	return out, nil
}

func (c *HTTPClient) Download(ctx context.Context, tenantID, path string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(tenantID, path)+"/content", nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", path, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *HTTPClient) Replace(ctx context.Context, tenantID, path string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(tenantID, path)+"/content", body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *HTTPClient) RemoveContent(ctx context.Context, tenantID, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.fileURL(tenantID, path)+"/content", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remove content %s: %w", path, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// checkStatus translates gateway statuses: 404 maps to the shared
// not-found sentinel, other 4xx are non-retryable, 5xx stay retryable.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return common.NonRetryable(fmt.Errorf("document store rejected request: %s", resp.Status))
	default:
		return fmt.Errorf("document store error: %s", resp.Status)
	}
}
