package mangaba

import (
	"context"
	"net/http"
)

const healthPath = "/health"

// Health is the body of the backend's health check.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the backend declared itself healthy.
func (h *Health) OK() bool {
	return h != nil && h.Status == "ok"
}

// Health queries the backend's health endpoint.
func (r *Client) Health(ctx context.Context) (*Health, error) {
	health := &Health{}
	if err := r.fetch(ctx, http.MethodGet, healthPath, nil, health); err != nil {
		return nil, err
	}

	return health, nil
}
