package user

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"comentario/common"
	"comentario/models"
	"comentario/store"
	"comentario/validate"
)

// UserModule owns the records under users/{username}.
type UserModule struct {
	store *store.Store

	// adminUsername, when non-empty, is treated as an admin regardless of the
	// stored role. Comes from the ADMIN_USERNAME env var.
	adminUsername string
}

func NewUserModule(s *store.Store, adminUsername string) *UserModule {
	return &UserModule{store: s, adminUsername: adminUsername}
}

func userPath(username string) string {
	return "users/" + username
}

// dummyHash keeps Login doing one bcrypt comparison even when the username
// doesn't exist, so response timing doesn't leak user existence.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("comentario-no-such-user"), bcrypt.MinCost)

// Register creates users/{username}. The existence check and the write happen
// in one transaction, so two racing registrations cannot both win.
func (u *UserModule) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = validate.Sanitize(username)
	email = validate.Sanitize(email)

	if !validate.Validate(username, validate.KindUsername) {
		return nil, fmt.Errorf("%w: username", common.ErrValidation)
	}
	if !validate.Validate(email, validate.KindEmail) {
		return nil, fmt.Errorf("%w: email", common.ErrValidation)
	}
	if !validate.Validate(password, validate.KindPassword) {
		return nil, fmt.Errorf("%w: password must be 8-72 chars with lower, upper and digit", common.ErrValidation)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.User{
		Username:  username,
		Email:     email,
		Password:  hash,
		CreatedAt: now,
		UpdatedAt: now,
		Role:      "user",
	}

	committed, err := u.store.Transact(ctx, userPath(username), func(current json.RawMessage) (any, error) {
		if current != nil {
			return nil, store.ErrTxAbort
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, fmt.Errorf("%w: username %q is taken", common.ErrConflict, username)
	}

	log.Printf("registered user %s", username)
	result := record.WithoutPassword()
	return &result, nil
}

// Login verifies credentials and stamps lastLoginAt. Every failure returns the
// same ErrUnauthorized so callers can't probe which usernames exist.
func (u *UserModule) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = validate.Sanitize(username)

	var record models.User
	found, err := u.store.Read(ctx, userPath(username), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		// Burn the same bcrypt cost as the real comparison below.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, common.ErrUnauthorized
	}
	if !checkPasswordHash(password, record.Password) {
		return nil, common.ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := u.store.Merge(ctx, userPath(username), map[string]any{"lastLoginAt": now}); err != nil {
		return nil, err
	}
	record.LastLoginAt = &now

	result := record.WithoutPassword()
	return &result, nil
}

// GetProfile returns the user without the password hash.
func (u *UserModule) GetProfile(ctx context.Context, username string) (*models.User, error) {
	username = validate.Sanitize(username)

	var record models.User
	found, err := u.store.Read(ctx, userPath(username), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: user %q", common.ErrNotFound, username)
	}
	result := record.WithoutPassword()
	return &result, nil
}

// Patch carries the updatable fields; empty strings mean "leave unchanged".
type Patch struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Update patches email and/or password and supports renaming: the record is
// transactionally created under the new username (failing on a taken name)
// and the old node deleted afterwards.
func (u *UserModule) Update(ctx context.Context, username string, patch Patch) (*models.User, error) {
	username = validate.Sanitize(username)

	var record models.User
	found, err := u.store.Read(ctx, userPath(username), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: user %q", common.ErrNotFound, username)
	}

	if patch.Email != "" {
		email := validate.Sanitize(patch.Email)
		if !validate.Validate(email, validate.KindEmail) {
			return nil, fmt.Errorf("%w: email", common.ErrValidation)
		}
		record.Email = email
	}
	if patch.Password != "" {
		if !validate.Validate(patch.Password, validate.KindPassword) {
			return nil, fmt.Errorf("%w: password must be 8-72 chars with lower, upper and digit", common.ErrValidation)
		}
		hash, err := hashPassword(patch.Password)
		if err != nil {
			return nil, err
		}
		record.Password = hash
	}
	record.UpdatedAt = time.Now().UTC()

	newName := validate.Sanitize(patch.Username)
	if newName != "" && newName != username {
		if !validate.Validate(newName, validate.KindUsername) {
			return nil, fmt.Errorf("%w: username", common.ErrValidation)
		}
		record.Username = newName

		committed, err := u.store.Transact(ctx, userPath(newName), func(current json.RawMessage) (any, error) {
			if current != nil {
				return nil, store.ErrTxAbort
			}
			return record, nil
		})
		if err != nil {
			return nil, err
		}
		if !committed {
			return nil, fmt.Errorf("%w: username %q is taken", common.ErrConflict, newName)
		}
		if err := u.store.Delete(ctx, userPath(username)); err != nil {
			return nil, err
		}
	} else {
		if err := u.store.Write(ctx, userPath(username), record); err != nil {
			return nil, err
		}
	}

	result := record.WithoutPassword()
	return &result, nil
}

// Delete removes users/{username}.
func (u *UserModule) Delete(ctx context.Context, username string) error {
	username = validate.Sanitize(username)

	var record models.User
	found, err := u.store.Read(ctx, userPath(username), &record)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: user %q", common.ErrNotFound, username)
	}
	return u.store.Delete(ctx, userPath(username))
}

// IsAdmin reports whether username may perform admin-only operations: either
// the stored role is admin, or it matches the configured bootstrap admin.
func (u *UserModule) IsAdmin(ctx context.Context, username string) (bool, error) {
	if u.adminUsername != "" && username == u.adminUsername {
		return true, nil
	}

	var record models.User
	found, err := u.store.Read(ctx, userPath(username), &record)
	if err != nil {
		return false, err
	}
	return found && record.Role == "admin", nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
