// Package roles provides the remote identity-service role provider. It sits
// behind the permissions role cache; a deployment without the service falls
// back to the local portfolio-membership table.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/permissions"
)

// Client resolves roles against a remote identity service
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a role service client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log.With().Str("client", "roles").Logger(),
	}
}

// ResolveRole fetches the user's role for a portfolio. Any transport or
// decode failure surfaces as an error; the role cache resolves failures to
// analyst, never PM.
func (c *Client) ResolveRole(ctx context.Context, userID, portfolioID string) (permissions.Role, error) {
	endpoint := fmt.Sprintf("%s/api/roles/%s/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(portfolioID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build role request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("role lookup: %w", domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown pairing resolves to the default role
		return permissions.RoleAnalyst, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("role lookup returned status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode role response: %w", err)
	}

	role := permissions.Role(body.Role)
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q from role service", body.Role)
	}
	return role, nil
}
