package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/security"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
)

// Notifier delivers manager invitations.
type Notifier interface {
	NotifyManagerInvite(ctx context.Context, user *models.User, client *models.Client, temporaryPassword string) error
}

// Invitation is a pending welcome message for a freshly created manager. It
// holds the only plaintext copy of the temporary password.
type Invitation struct {
	User              *models.User
	Client            *models.Client
	TemporaryPassword string
}

// ManagerProvisioner makes sure a client's contact email has a manager login.
type ManagerProvisioner struct {
	repo             Repository
	clock            clock.Clock
	validate         *validator.Validate
	generatePassword func() (string, error)
}

func NewManagerProvisioner(repo Repository, clk clock.Clock) *ManagerProvisioner {
	return &ManagerProvisioner{
		repo:             repo,
		clock:            clk,
		validate:         validator.New(),
		generatePassword: security.GenerateTemporaryPassword,
	}
}

// Ensure creates or upgrades the manager account for email and links it to
// the client. An Invitation is returned only when a user was created.
func (p *ManagerProvisioner) Ensure(ctx context.Context, client *models.Client, email, name string) (*Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if client == nil || email == "" {
		return nil, nil
	}
	if err := p.validate.Var(email, "required,email,max=200"); err != nil {
		log.Warnf("[Billing] Skipping manager provisioning for client %d: invalid email %q", client.ID, email)
		return nil, nil
	}

	var invitation *Invitation
	user, err := p.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.Can(models.CapabilityManager) {
			if err := p.repo.GrantCapability(ctx, user.ID, models.CapabilityManager); err != nil {
				return nil, fmt.Errorf("grant manager to user %d: %w", user.ID, err)
			}
			log.Infof("[Billing] Granted manager capability to user %d", user.ID)
		}
	case isNotFound(err):
		user, invitation, err = p.create(ctx, client, email, name)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	if client.ManagerUserID == nil || *client.ManagerUserID != user.ID {
		id := user.ID
		client.ManagerUserID = &id
		if err := p.repo.SaveClient(ctx, client); err != nil {
			return nil, fmt.Errorf("link manager to client %d: %w", client.ID, err)
		}
	}
	return invitation, nil
}

func (p *ManagerProvisioner) create(ctx context.Context, client *models.Client, email, name string) (*models.User, *Invitation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	name = truncateRunes(name, models.UserNameMaxLength)

	password, err := p.generatePassword()
	if err != nil {
		return nil, nil, fmt.Errorf("generate temporary password: %w", err)
	}
	user, err := models.NewVerifiedUser(name, email, password, p.clock.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("build manager user: %w", err)
	}
	if err := p.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create manager user: %w", err)
	}
	if err := p.repo.GrantCapability(ctx, user.ID, models.CapabilityManager); err != nil {
		return nil, nil, fmt.Errorf("grant manager to user %d: %w", user.ID, err)
	}

	log.Infof("[Billing] Created manager user %d for client %d", user.ID, client.ID)
	return user, &Invitation{User: user, Client: client, TemporaryPassword: password}, nil
}
