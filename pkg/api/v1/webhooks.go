package apiv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const defaultMaxNotificationBytes int64 = 1 << 20

// NotificationDispatcher accepts a decoded batch for background processing
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, batch *clients.ChangeNotificationCollection)
}

// WebhooksGroup receives provider change notifications. The handshake echoes
// the validation token; deliveries are always acknowledged with 202.
type WebhooksGroup struct {
	dispatcher   NotificationDispatcher
	maxBodyBytes int64
}

func NewWebhooksGroup(g *echo.Group, dispatcher NotificationDispatcher, maxBodyBytes int64) *WebhooksGroup {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxNotificationBytes
	}
	wg := &WebhooksGroup{dispatcher: dispatcher, maxBodyBytes: maxBodyBytes}

	g.GET("/notifications", wg.Validate)
	g.POST("/notifications", wg.Notify)

	return wg
}

// Validate answers the subscription handshake
func (wg *WebhooksGroup) Validate(c echo.Context) error {
	token := c.QueryParam("validationToken")
	if token == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlain, []byte(token))
}

// Notify acknowledges a delivery. A POST carrying validationToken is a handshake.
func (wg *WebhooksGroup) Notify(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		return c.Blob(http.StatusOK, echo.MIMETextPlain, []byte(token))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, wg.maxBodyBytes+1))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read notification body")
		return c.NoContent(http.StatusAccepted)
	}
	if int64(len(body)) > wg.maxBodyBytes {
		log.Warn().Int64("limit", wg.maxBodyBytes).Msg("notification body too large, dropped")
		return c.NoContent(http.StatusAccepted)
	}

	var batch clients.ChangeNotificationCollection
	if err := json.Unmarshal(body, &batch); err != nil {
		log.Warn().Err(err).Msg("malformed notification body, dropped")
		return c.NoContent(http.StatusAccepted)
	}

	wg.dispatcher.Dispatch(c.Request().Context(), &batch)
	return c.NoContent(http.StatusAccepted)
}
