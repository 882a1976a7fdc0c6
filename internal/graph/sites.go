package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// siteResponse mirrors the Graph API site JSON response.
type siteResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// driveResponse mirrors the Graph API drive JSON response.
type driveResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
}

// drivesListResponse wraps the value array from GET /sites/{id}/drives.
type drivesListResponse struct {
	Value []driveResponse `json:"value"`
}

// ResolveSite resolves a SharePoint site by hostname and server-relative
// path, e.g. ("contoso.sharepoint.com", "/sites/engineering").
// Uses GET /sites/{host}:{path}.
func (c *Client) ResolveSite(ctx context.Context, hostname, sitePath string) (*Site, error) {
	c.logger.Info("resolving site",
		slog.String("hostname", hostname),
		slog.String("site_path", sitePath),
	)

	if !strings.HasPrefix(sitePath, "/") {
		sitePath = "/" + sitePath
	}

	path := fmt.Sprintf("/sites/%s:%s", hostname, encodePathSegments(sitePath))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr siteResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("graph: decoding site response: %w", err)
	}

	site := &Site{
		ID:          sr.ID,
		DisplayName: sr.DisplayName,
		WebURL:      sr.WebURL,
	}

	c.logger.Debug("resolved site",
		slog.String("site_id", site.ID),
		slog.String("display_name", site.DisplayName),
	)

	return site, nil
}

// SiteDrives lists the document libraries (drives) of a SharePoint site.
// Uses GET /sites/{siteID}/drives.
func (c *Client) SiteDrives(ctx context.Context, siteID string) ([]Drive, error) {
	c.logger.Info("listing site drives", slog.String("site_id", siteID))

	path := fmt.Sprintf("/sites/%s/drives", url.PathEscape(siteID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dlr drivesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&dlr); err != nil {
		return nil, fmt.Errorf("graph: decoding drives response: %w", err)
	}

	drives := make([]Drive, 0, len(dlr.Value))
	for _, dr := range dlr.Value {
		drives = append(drives, Drive{
			ID:     strings.ToLower(dr.ID),
			Name:   dr.Name,
			WebURL: dr.WebURL,
		})
	}

	c.logger.Info("listed site drives",
		slog.String("site_id", siteID),
		slog.Int("count", len(drives)),
	)

	return drives, nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path so
// characters like #, ?, %, and spaces are safe inside Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}
