package emails

import (
	"errors"
	"fmt"

	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/render"
)

var ErrUnsupportedNotification = errors.New("emails: unsupported notification")

type Formatter struct {
	ctx      RenderContext
	renderer render.Renderer
}

func NewFormatter(ctx RenderContext) *Formatter {
	return &Formatter{ctx: ctx, renderer: render.NewRenderer(ctx.ServerBaseURL, ctx.MaxIssuesPerLink)}
}

func (f *Formatter) Format(n notifications.Notification) (EmailMessage, error) {
	switch v := n.(type) {
	case notifications.ChangesOnMyIssues:
		return f.formatChangesOnMyIssues(v)
	case notifications.FPOrAccepted:
		return f.formatFPOrAccepted(v)
	case notifications.NewIssues:
		if v.Stats == nil {
			return EmailMessage{}, fmt.Errorf("%w: digest without statistics", ErrUnsupportedNotification)
		}
		return f.formatNewIssues(v)
	case notifications.MyNewIssues:
		if v.Stats == nil {
			return EmailMessage{}, fmt.Errorf("%w: digest without statistics", ErrUnsupportedNotification)
		}
		return f.formatMyNewIssues(v)
	default:
		return EmailMessage{}, fmt.Errorf("%w: %T", ErrUnsupportedNotification, n)
	}
}
