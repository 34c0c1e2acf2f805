package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ListDeployments returns every deployment visible to the client's
// customer scope.
func (c *Client) ListDeployments(ctx context.Context) ([]Deployment, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/deployments", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deployapi: reading deployments response: %w", err)
	}

	deployments, err := decodeDeployments(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("listed deployments", slog.Int("count", len(deployments)))

	return deployments, nil
}

// FindDeployment returns the deployment with the given name, or nil when it
// does not exist.
func (c *Client) FindDeployment(ctx context.Context, name string) (*Deployment, error) {
	deployments, err := c.ListDeployments(ctx)
	if err != nil {
		return nil, err
	}

	return Find(deployments, name), nil
}

// Find returns the entry named name, or nil.
func Find(deployments []Deployment, name string) *Deployment {
	for i := range deployments {
		if deployments[i].Name == name {
			return &deployments[i]
		}
	}

	return nil
}

// CreateDeployment registers a deployment shell for d. Files are shipped
// afterwards with UploadArchive.
func (c *Client) CreateDeployment(ctx context.Context, d *Descriptor) error {
	c.logger.Info("creating deployment",
		slog.String("name", d.Name),
		slog.String("domain", d.Domain),
		slog.String("framework", d.Framework),
	)

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deployapi: marshaling descriptor: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/deploy", body)
	if err != nil {
		return err
	}

	drainAndClose(resp)

	return nil
}

// DeleteDeployment removes the named deployment.
func (c *Client) DeleteDeployment(ctx context.Context, name string) error {
	c.logger.Info("deleting deployment", slog.String("name", name))

	resp, err := c.Do(ctx, http.MethodDelete, "/deployments/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}

	drainAndClose(resp)

	return nil
}

// decodeDeployments accepts either a bare JSON array or an object with a
// "deployments" array.
func decodeDeployments(raw []byte) ([]Deployment, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []Deployment
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("deployapi: decoding deployments: %w", err)
		}

		return list, nil
	}

	var wrapped deploymentsResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("deployapi: decoding deployments: %w", err)
	}

	return wrapped.Deployments, nil
}
