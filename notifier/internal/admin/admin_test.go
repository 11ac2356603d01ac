package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/emails"
	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/workflow"
)

type fakePermissions struct {
	queries []routing.Query
	err     error
}

func (f *fakePermissions) ResolveRecipients(_ context.Context, q routing.Query) ([]routing.Recipient, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	all := []routing.Recipient{{Login: "alice", Email: "alice@example.com"}, {Login: "bob", Email: "bob@example.com"}}
	if q.Logins == nil {
		return all, nil
	}
	var out []routing.Recipient
	for _, r := range all {
		for _, l := range q.Logins {
			if l == r.Login {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type noopTransport struct{}

func (noopTransport) IsEnabled() bool { return true }

func (noopTransport) Deliver(context.Context, []routing.DeliveryRequest) (int, error) {
	return 0, errors.New("preview must not deliver")
}

func newServer(t *testing.T, perms *fakePermissions) http.Handler {
	t.Helper()
	dispatcher, err := routing.NewDispatcher(routing.Config{}, codec.PropertiesCodec{}, perms, noopTransport{})
	require.NoError(t, err)
	api := New(Deps{
		Previewer:   dispatcher,
		Renderer:    emails.NewFormatter(emails.RenderContext{ServerBaseURL: "https://sq.example"}),
		Permissions: perms,
		Catalog:     emails.DefaultCatalog(),
		Logger:      logx.Logger{},
	})
	mux := http.NewServeMux()
	api.Routes(mux)
	return mux
}

func changePayload(t *testing.T) codec.Properties {
	t.Helper()
	p, err := issuechange.NewProject(issuechange.ProjectOptions{UUID: "p1", Key: "prj", Name: "Project"})
	require.NoError(t, err)
	issue, err := issuechange.NewChangedIssue("AX1", issuechange.ChangedIssueOptions{
		NewStatus: workflow.StatusOpen,
		Assignee:  &issuechange.User{UUID: "u-alice", Login: "alice", Name: "Alice"},
		Rule:      issuechange.NewRule("java", "S1", issuechange.RuleTypeBug, "Rule One"),
		Project:   p,
	})
	require.NoError(t, err)
	change := issuechange.NewUserChange(time.UnixMilli(1000), issuechange.User{UUID: "u-bob", Login: "bob", Name: "Bob"})
	agg, err := issuechange.NewAggregate(&change, []issuechange.ChangedIssue{issue})
	require.NoError(t, err)
	return codec.Encode(agg)
}

func do(h http.Handler, method string, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCategories(t *testing.T) {
	rec := do(newServer(t, &fakePermissions{}), http.MethodGet, "/api/v1/notification-categories", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories []struct {
			DispatcherKey string `json:"dispatcher_key"`
			GlobalEnabled bool   `json:"global_enabled"`
			DisplayName   string `json:"display_name"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Categories, 4)
	assert.Equal(t, notifications.CategoryChangesOnMyIssue, body.Categories[0].DispatcherKey)
	assert.True(t, body.Categories[0].GlobalEnabled)
	assert.Equal(t, "Changes in issues assigned to me", body.Categories[0].DisplayName)
	assert.False(t, body.Categories[1].GlobalEnabled)
}

func TestPreviewRendersWithoutDelivering(t *testing.T) {
	perms := &fakePermissions{}
	b, err := json.Marshal(previewRequest{Payloads: []codec.Properties{changePayload(t)}})
	require.NoError(t, err)

	rec := do(newServer(t, perms), http.MethodPost, "/api/v1/previews", string(b))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Emails []struct {
			Email     string `json:"email"`
			Category  string `json:"category"`
			MessageID string `json:"message_id"`
			Subject   string `json:"subject"`
			HTML      string `json:"html"`
			To        string `json:"to"`
		} `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Emails, 1)
	assert.Equal(t, "alice@example.com", body.Emails[0].Email)
	assert.Equal(t, "alice@example.com", body.Emails[0].To)
	assert.Equal(t, notifications.CategoryChangesOnMyIssue, body.Emails[0].Category)
	assert.NotEmpty(t, body.Emails[0].Subject)
	assert.Contains(t, body.Emails[0].HTML, "AX1")
}

func TestPreviewRejectsBadInput(t *testing.T) {
	h := newServer(t, &fakePermissions{})

	cases := map[string]string{
		"empty body":     "",
		"unknown field":  `{"payload":[]}`,
		"no payloads":    `{"payloads":[]}`,
		"malformed bag":  `{"payloads":[{"type":"issues-changes"}]}`,
		"wrong bag type": `{"payloads":[{"type":"other"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/v1/previews", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
		})
	}
}

func TestPreviewPermissionFailure(t *testing.T) {
	b, err := json.Marshal(previewRequest{Payloads: []codec.Properties{changePayload(t)}})
	require.NoError(t, err)

	rec := do(newServer(t, &fakePermissions{err: errors.New("down")}), http.MethodPost, "/api/v1/previews", string(b))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecipients(t *testing.T) {
	perms := &fakePermissions{}
	rec := do(newServer(t, perms), http.MethodGet, "/api/v1/projects/prj/recipients?category=NewFalsePositiveIssue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, perms.queries, 1)
	q := perms.queries[0]
	assert.Equal(t, "prj", q.ProjectKey)
	assert.Equal(t, notifications.CategoryNewFalsePositiveIssue, q.DispatcherKey)
	assert.Nil(t, q.Logins)
	assert.False(t, q.IncludeGlobal)
	assert.Equal(t, routing.AllMustHaveRoleUser, q.Role)

	var body struct {
		ProjectKey string              `json:"project_key"`
		Recipients []routing.Recipient `json:"recipients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "prj", body.ProjectKey)
	assert.Len(t, body.Recipients, 2)
}

func TestRecipientsIncludesGlobalSubscribersWhenAllowed(t *testing.T) {
	perms := &fakePermissions{}
	rec := do(newServer(t, perms), http.MethodGet, "/api/v1/projects/prj/recipients?category=ChangesOnMyIssue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, perms.queries, 1)
	assert.True(t, perms.queries[0].IncludeGlobal)
}

func TestRecipientsRejectsUnknownCategory(t *testing.T) {
	rec := do(newServer(t, &fakePermissions{}), http.MethodGet, "/api/v1/projects/prj/recipients?category=Nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
