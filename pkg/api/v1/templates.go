package apiv1

import (
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
)

const pageTitle = "Mailsync"

var callbackTemplate = template.Must(template.New("callback").Parse(callbackHTML))

type callbackPageData struct {
	Title   string
	Message string
	Detail  string
	Failed  bool
}

func renderErrorPage(c echo.Context, message string) error {
	return renderCallbackPage(c, http.StatusBadRequest, callbackPageData{
		Title:   "Connection Failed",
		Message: message,
		Detail:  "You can close this window and start the connection again.",
		Failed:  true,
	})
}

func renderSuccessPage(c echo.Context, tenantId string) error {
	return renderCallbackPage(c, http.StatusOK, callbackPageData{
		Title:   "Mailbox Connected",
		Message: "Microsoft 365 tenant " + tenantId + " is connected. Mail sync starts on the next cycle.",
		Detail:  "You can close this window.",
	})
}

func renderCallbackPage(c echo.Context, status int, data callbackPageData) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return callbackTemplate.Execute(c.Response(), data)
}

const callbackHTML = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>{{.Title}} - ` + pageTitle + `</title>
	<style>
		body { font-family: system-ui, sans-serif; display: flex; min-height: 100vh; margin: 0; align-items: center; justify-content: center; background: #f6f7f9; color: #1d2330; }
		main { max-width: 420px; padding: 40px 28px; background: #fff; border-radius: 10px; border: 1px solid #e3e6eb; text-align: center; }
		h1 { font-size: 22px; margin: 0 0 12px; }
		h1.failed { color: #b42318; }
		h1.ok { color: #067647; }
		.detail { color: #667085; font-size: 14px; }
	</style>
</head>
<body>
	<main>
		<h1 class="{{if .Failed}}failed{{else}}ok{{end}}">{{.Title}}</h1>
		<p>{{.Message}}</p>
		<p class="detail">{{.Detail}}</p>
	</main>
</body>
</html>`
