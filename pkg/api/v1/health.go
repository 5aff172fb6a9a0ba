package apiv1

import (
	"net/http"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type HealthGroup struct {
	backend     repository.BackendRepository
	redisClient *common.RedisClient
	routerGroup *echo.Group
}

// NewHealthGroup registers the health route. rdb is nil in local mode.
func NewHealthGroup(g *echo.Group, backend repository.BackendRepository, rdb *common.RedisClient) *HealthGroup {
	group := &HealthGroup{routerGroup: g, backend: backend, redisClient: rdb}

	g.GET("", group.HealthCheck)

	return group
}

func (h *HealthGroup) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.backend.Ping(ctx); err != nil {
		return h.unhealthy(c, "database", err)
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			return h.unhealthy(c, "redis", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HealthGroup) unhealthy(c echo.Context, component string, err error) error {
	log.Error().Err(err).Str("component", component).Msg("health check failed")
	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"status":    "not ok",
		"component": component,
		"error":     err.Error(),
	})
}
