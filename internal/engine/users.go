package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/repo"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user account is deactivated")
)

func validRole(role string) bool {
	switch role {
	case "Admin", "Manager", "Developer", "Designer", "Analyst":
		return true
	}
	return false
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	Name     string
	Email    string
	Password string
	Title    string
	Role     string
	IsAdmin  bool
	ActorID  string
}

// RegisterUser creates an account. The very first account becomes an admin
// regardless of the requested role so the workspace is never locked out.
func (e Engine) RegisterUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Name == "" {
		return domain.User{}, errors.New("name is required")
	}
	opts.Email = strings.ToLower(strings.TrimSpace(opts.Email))
	if opts.Email == "" || !strings.Contains(opts.Email, "@") {
		return domain.User{}, errors.New("a valid email is required")
	}
	if len(opts.Password) < 6 {
		return domain.User{}, errors.New("password must be at least 6 characters")
	}
	if opts.Role == "" {
		opts.Role = "Developer"
	}
	if !validRole(opts.Role) {
		return domain.User{}, fmt.Errorf("invalid role %s", opts.Role)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	existing, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	firstUser := len(existing) == 0
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{
		ID:           uuid.New().String(),
		Name:         opts.Name,
		Email:        opts.Email,
		Title:        opts.Title,
		Role:         opts.Role,
		IsActive:     true,
		IsAdmin:      opts.IsAdmin || firstUser,
		CreatedAt:    now,
		UpdatedAt:    now,
		PasswordHash: string(hash),
	}
	if firstUser {
		u.Role = "Admin"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.registered", "user", u.ID, u.ID, events.EventPayload{
		"email": u.Email,
		"role":  u.Role,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	if !firstUser {
		e.notify(func() (domain.Notification, error) { return e.Ledger.UserRegistered(ctx, u, u.ID) })
	}
	u.PasswordHash = ""
	return u, nil
}

// Authenticate verifies credentials and returns the account. Deactivated
// accounts fail even with the right password.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return domain.User{}, ErrUserInactive
	}
	u.PasswordHash = ""
	return u, nil
}

// UserUpdateOptions encapsulates profile updates. Nil pointers mean "leave
// as is".
type UserUpdateOptions struct {
	ID       string
	Name     *string
	Title    *string
	Role     *string
	IsAdmin  *bool
	IsActive *bool
	Avatar   *string
	ActorID  string
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, opts.ID)
	if err != nil {
		return u, err
	}
	original := u
	if opts.Name != nil {
		if *opts.Name == "" {
			return u, errors.New("name cannot be empty")
		}
		u.Name = *opts.Name
	}
	if opts.Title != nil {
		u.Title = *opts.Title
	}
	if opts.Role != nil {
		if !validRole(*opts.Role) {
			return u, fmt.Errorf("invalid role %s", *opts.Role)
		}
		u.Role = *opts.Role
	}
	if opts.IsAdmin != nil {
		u.IsAdmin = *opts.IsAdmin
	}
	if opts.IsActive != nil {
		u.IsActive = *opts.IsActive
	}
	if opts.Avatar != nil {
		u.Avatar = *opts.Avatar
	}
	u.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
		return u, err
	}
	if err := e.Events.Append(ctx, tx, "user.updated", "user", u.ID, opts.ActorID, events.EventPayload{
		"role":      u.Role,
		"is_active": u.IsActive,
	}); err != nil {
		return u, err
	}
	if err := tx.Commit(); err != nil {
		return u, err
	}

	if u.Role != original.Role {
		e.notify(func() (domain.Notification, error) {
			return e.Ledger.RoleChanged(ctx, u, original.Role, u.Role, opts.ActorID)
		})
	}
	if u.IsActive && !original.IsActive {
		e.notify(func() (domain.Notification, error) { return e.Ledger.UserActivated(ctx, u, opts.ActorID) })
	}
	if !u.IsActive && original.IsActive {
		e.notify(func() (domain.Notification, error) { return e.Ledger.UserDeactivated(ctx, u, opts.ActorID) })
	}
	u.PasswordHash = ""
	return u, nil
}

// ChangePassword verifies the current password before replacing it.
func (e Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return e.Repo.SetUserPassword(ctx, userID, string(hash), e.now().UTC().Format(time.RFC3339))
}

func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	if id == actorID {
		return errors.New("cannot delete your own account")
	}
	if _, err := e.Repo.GetUser(ctx, id); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "user.deleted", "user", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey mints a key for machine access and returns the plaintext
// once. Only the hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "td_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}
