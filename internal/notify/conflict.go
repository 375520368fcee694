package notify

import (
	"bytes"
	"context"
	"html/template"
	texttemplate "text/template"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/observability/logger"
)

const conflictSubject = "Sign-in attempt with a different provider"

var conflictHTML = template.Must(template.New("conflict").Parse(`<p>Hello {{.FirstName}},</p>
<p>Someone tried to sign in as <b>{{.Name}}</b> using <b>{{.Attempted}}</b>.
Your account is linked to <b>{{.Provider}}</b>, so the attempt was refused.</p>
<p>If this was you, sign in with {{.Provider}} instead.</p>`))

var conflictText = texttemplate.Must(texttemplate.New("conflict").Parse(`Hello {{.FirstName}},

Someone tried to sign in as {{.Name}} using {{.Attempted}}.
Your account is linked to {{.Provider}}, so the attempt was refused.

If this was you, sign in with {{.Provider}} instead.
`))

// ConflictNotifier manda el aviso de conflicto de perfil.
type ConflictNotifier struct {
	Sender Sender
}

type conflictData struct {
	FirstName string
	Name      string
	Provider  domain.Provider
	Attempted domain.Provider
}

// NotifyConflict avisa al email del perfil existente. Errores solo se loguean.
func (n *ConflictNotifier) NotifyConflict(ctx context.Context, existing *domain.UserProfile, attempted domain.Provider) {
	if n == nil || n.Sender == nil || existing == nil || existing.Email == "" {
		return
	}
	data := conflictData{
		FirstName: existing.FirstName,
		Name:      existing.Name,
		Provider:  existing.Provider,
		Attempted: attempted,
	}
	var html, text bytes.Buffer
	if err := conflictHTML.Execute(&html, data); err != nil {
		logger.From(ctx).Error("render conflict email", logger.Err(err))
		return
	}
	if err := conflictText.Execute(&text, data); err != nil {
		logger.From(ctx).Error("render conflict email", logger.Err(err))
		return
	}
	if err := n.Sender.Send(existing.Email, conflictSubject, html.String(), text.String()); err != nil {
		logger.From(ctx).Warn("conflict notice not sent",
			logger.PrincipalName(existing.Name), logger.Err(err))
	}
}
