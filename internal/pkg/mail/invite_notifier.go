package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/env"
)

const inviteSubject = "Your LiquidFlow portal access"

var inviteTemplate = template.Must(template.New("invite").Parse(`<p>Hello {{.Name}},</p>
<p>A manager account for <strong>{{.ClientName}}</strong> has been created on the LiquidFlow portal.</p>
<p>Email: {{.Email}}<br>Temporary password: <code>{{.Password}}</code></p>
<p>Sign in at <a href="{{.LoginURL}}">{{.LoginURL}}</a> and change your password right away.</p>
`))

type inviteData struct {
	Name       string
	ClientName string
	Email      string
	Password   string
	LoginURL   string
}

// InviteNotifier emails the temporary credentials of new manager accounts.
type InviteNotifier struct {
	send     SendFunc
	loginURL string
}

// NewInviteNotifier builds a notifier on send. A nil send uses SendMail.
func NewInviteNotifier(send SendFunc) *InviteNotifier {
	if send == nil {
		send = SendMail
	}
	domain := strings.TrimSuffix(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080"), "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return &InviteNotifier{send: send, loginURL: domain + "/login"}
}

func (n *InviteNotifier) NotifyManagerInvite(ctx context.Context, user *models.User, client *models.Client, temporaryPassword string) error {
	if user == nil || user.Email == "" {
		return errors.New("invite recipient has no email")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := inviteData{
		Name:     user.Name,
		Email:    user.Email,
		Password: temporaryPassword,
		LoginURL: n.loginURL,
	}
	if client != nil {
		data.ClientName = client.Name
	}

	var body bytes.Buffer
	if err := inviteTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("render invite: %w", err)
	}
	return n.send(user.Email, inviteSubject, body.String())
}
