// Package admin serves the operator API of the notification service.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/emails"
	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/httpx"
	"issue-notifications/shared/logx"
)

const maxPreviewBody = 1 << 20

type Previewer interface {
	Decode(payloads []codec.Properties) ([]issuechange.Aggregate, error)
	Preview(ctx context.Context, aggs []issuechange.Aggregate) ([]routing.DeliveryRequest, error)
}

type Renderer interface {
	Format(n notifications.Notification) (emails.EmailMessage, error)
}

type Deps struct {
	Previewer   Previewer
	Renderer    Renderer
	Permissions routing.PermissionService
	Catalog     emails.Catalog
	Logger      logx.Logger
}

type API struct {
	deps Deps
}

func New(deps Deps) *API {
	return &API{deps: deps}
}

func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notification-categories", a.categories)
	mux.HandleFunc("POST /api/v1/previews", a.previews)
	mux.HandleFunc("GET /api/v1/projects/{key}/recipients", a.recipients)
}

type categoryResponse struct {
	routing.Metadata
	DisplayName string `json:"display_name"`
}

func (a *API) categories(w http.ResponseWriter, r *http.Request) {
	all := routing.Categories()
	out := make([]categoryResponse, 0, len(all))
	for _, m := range all {
		out = append(out, categoryResponse{Metadata: m, DisplayName: a.deps.Catalog.DisplayName(m.DispatcherKey)})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": out})
}

type previewRequest struct {
	Payloads []codec.Properties `json:"payloads"`
}

type previewEmail struct {
	Email           string `json:"email"`
	Login           string `json:"login"`
	Category        string `json:"category"`
	NotificationKey string `json:"notification_key"`
	emails.EmailMessage
}

func (a *API) previews(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := httpx.DecodeJSON(r, maxPreviewBody, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error(), nil)
		return
	}
	if len(req.Payloads) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "payloads must not be empty", nil)
		return
	}
	aggs, err := a.deps.Previewer.Decode(req.Payloads)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error(), nil)
		return
	}
	requests, err := a.deps.Previewer.Preview(r.Context(), aggs)
	if err != nil {
		a.internal(w, r, "preview_failed", err)
		return
	}
	out := make([]previewEmail, 0, len(requests))
	for _, dr := range requests {
		msg, err := a.deps.Renderer.Format(dr.Notification)
		if err != nil {
			a.internal(w, r, "preview_render_failed", err)
			return
		}
		msg.To = dr.Email
		out = append(out, previewEmail{
			Email:           dr.Email,
			Login:           dr.Login,
			Category:        dr.Notification.Category(),
			NotificationKey: dr.Notification.Key(),
			EmailMessage:    msg,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"emails": out})
}

func (a *API) recipients(w http.ResponseWriter, r *http.Request) {
	projectKey := strings.TrimSpace(r.PathValue("key"))
	if projectKey == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "project key is required", nil)
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	meta, ok := routing.MetadataFor(category)
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "unknown category", map[string]any{"category": category})
		return
	}
	recipients, err := a.deps.Permissions.ResolveRecipients(r.Context(), routing.Query{
		DispatcherKey: meta.DispatcherKey,
		ProjectKey:    projectKey,
		Role:          routing.RequiredRole(meta.RequiredRole),
		IncludeGlobal: meta.GlobalEnabled,
	})
	if err != nil {
		a.internal(w, r, "recipients_failed", err)
		return
	}
	if recipients == nil {
		recipients = []routing.Recipient{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"project_key": projectKey,
		"category":    meta.DispatcherKey,
		"recipients":  recipients,
	})
}

func (a *API) internal(w http.ResponseWriter, r *http.Request, event string, err error) {
	status, code := http.StatusInternalServerError, httpx.CodeInternal
	if errors.Is(err, context.DeadlineExceeded) {
		status, code = http.StatusGatewayTimeout, httpx.CodeTimeout
	}
	a.deps.Logger.Error(r.Context(), event, "request failed",
		append(logx.Failure(logx.CodeInternal, err), slog.String("request_id", httpx.RequestIDFromContext(r.Context())))...)
	httpx.WriteError(w, r, status, code, "request failed", nil)
}
