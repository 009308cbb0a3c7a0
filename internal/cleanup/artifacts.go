package cleanup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewHTTPArtifactRemover deletes signup documents through the media
// service's object endpoint. A 404 counts as success: the object is
// already gone and the row can be pruned.
func NewHTTPArtifactRemover(baseURL string, client *http.Client) ArtifactRemover {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/v1/objects"

	return func(ctx context.Context, objectURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
			endpoint+"?url="+url.QueryEscape(objectURL), nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("media service returned %d deleting %s", resp.StatusCode, objectURL)
		}
		return nil
	}
}
