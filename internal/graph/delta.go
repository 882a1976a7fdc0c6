package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// deltaResponse mirrors the Graph API delta response JSON structure.
// Unexported — callers receive normalized DeltaPage values.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Delta fetches one page of delta changes for a drive.
// Pass an empty token for a full enumeration from the drive root.
// For subsequent calls, pass the DeltaLink or NextLink from the previous
// page — these are full URLs the server hands back verbatim.
// A page is fully materialized before return; callers never see a partial
// page. HTTP 410 means the token has expired — surfaces as ErrGone so the
// caller can restart from full enumeration.
func (c *Client) Delta(ctx context.Context, driveID, token string) (*DeltaPage, error) {
	path := token
	if path == "" {
		path = fmt.Sprintf("/drives/%s/root/delta", url.PathEscape(driveID))
	}

	c.logger.Info("fetching delta page",
		slog.String("drive_id", driveID),
		slog.Bool("initial_sync", token == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem(c.logger))
	}

	items = dedupeItems(items, c.logger)

	c.logger.Debug("fetched delta page",
		slog.Int("raw_count", len(dr.Value)),
		slog.Int("item_count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}

// dedupeItems removes duplicate item IDs within a page, keeping the last
// occurrence. The Graph API occasionally repeats an item in a delta page;
// the last entry reflects the newest state.
func dedupeItems(items []Item, logger *slog.Logger) []Item {
	last := make(map[string]int, len(items))
	for i := range items {
		last[items[i].ID] = i
	}

	if len(last) == len(items) {
		return items
	}

	result := make([]Item, 0, len(last))

	for i := range items {
		if last[items[i].ID] != i {
			logger.Debug("dropping duplicate delta entry",
				slog.String("item_id", items[i].ID),
				slog.String("name", items[i].Name),
			)

			continue
		}

		result = append(result, items[i])
	}

	return result
}
