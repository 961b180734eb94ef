package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the username is unknown so that a
// miss costs roughly the same as a wrong password.
var dummyHash = mustHash("agentdesk-timing-equalizer")

func mustHash(password string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic("identity: failed to build dummy hash: " + err.Error())
	}
	return h
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verifier checks login attempts against stored credentials.
type Verifier struct {
	users store.UserRepository
	now   func() time.Time
}

// NewVerifier creates a credential verifier.
func NewVerifier(users store.UserRepository) *Verifier {
	return &Verifier{users: users, now: time.Now}
}

// Verify returns the matching active user. It fails with
// domain.ErrInvalidCredentials for unknown users and wrong passwords, and
// with domain.ErrAccountInactive for a correct password on a disabled account.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := v.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, domain.ErrAccountInactive
	}

	now := v.now()
	if err := v.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("Failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}
	return user, nil
}
