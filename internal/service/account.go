package service

import (
	"context"
	"errors"
	"strings"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
)

// UpdateProfile changes the account email and display attributes.
// A new email must not belong to another account.
func (s *identityResolver) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*domain.User, error) {
	email := domain.NormalizeEmail(update.Email)
	if !utils.ValidateEmail(email) {
		return nil, s.fail(ctx, flowAccount, "", newAuthError(KindInvalidInput, msgInvalidEmail, nil))
	}

	unlock, err := s.lock(ctx, userLockKey(userID), emailLockKey(email))
	if err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}
	defer unlock()

	user, err := s.sessionUser(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}

	if email != user.Email {
		owner, err := s.findByEmail(ctx, email)
		switch {
		case err == nil && owner.ID != user.ID:
			return nil, s.fail(ctx, flowAccount, "", newAuthError(KindEmailAlreadyRegistered, msgEmailInUse, nil))
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, s.fail(ctx, flowAccount, "", err)
		}
	}

	user.Email = email
	user.Profile.Name = strings.TrimSpace(update.Name)
	user.Profile.Gender = strings.TrimSpace(update.Gender)
	user.Profile.Location = strings.TrimSpace(update.Location)

	if err := s.saveAccount(ctx, user); err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}

	s.succeed(ctx, flowAccount, "", "profile_updated", user.ID)
	return user, nil
}

// ChangePassword hashes and stores a new local password
func (s *identityResolver) ChangePassword(ctx context.Context, userID, password string) (*domain.User, error) {
	if !utils.ValidatePassword(password) {
		return nil, s.fail(ctx, flowAccount, "", newAuthError(KindInvalidInput, msgInvalidPassword, nil))
	}

	passwordHash, err := utils.HashPassword(password, s.cfg.BCryptCost)
	if err != nil {
		return nil, s.fail(ctx, flowAccount, "", newAuthError(KindInvalidInput, msgInvalidPassword, err))
	}

	unlock, err := s.lock(ctx, userLockKey(userID))
	if err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}
	defer unlock()

	user, err := s.sessionUser(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}

	user.PasswordHash = passwordHash

	if err := s.saveAccount(ctx, user); err != nil {
		return nil, s.fail(ctx, flowAccount, "", err)
	}

	s.succeed(ctx, flowAccount, "", "password_changed", user.ID)
	return user, nil
}

// DeleteAccount removes the user with all provider links and tokens
func (s *identityResolver) DeleteAccount(ctx context.Context, userID string) error {
	unlock, err := s.lock(ctx, userLockKey(userID))
	if err != nil {
		return s.fail(ctx, flowAccount, "", err)
	}
	defer unlock()

	user, err := s.sessionUser(ctx, userID)
	if err != nil {
		return s.fail(ctx, flowAccount, "", err)
	}

	_, err = storeCall(ctx, s, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.Delete(ctx, user.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		}
		return s.fail(ctx, flowAccount, "", err)
	}

	s.notify(ctx, Notification{
		Kind:   NotificationInfo,
		UserID: user.ID,
		Text:   msgAccountDeleted,
	})

	s.succeed(ctx, flowAccount, "", "deleted", user.ID)
	return nil
}

// sessionUser loads the signed in user; a missing record means the session
// outlived its account
func (s *identityResolver) sessionUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		}
		return nil, err
	}
	return user, nil
}

func (s *identityResolver) saveAccount(ctx context.Context, user *domain.User) error {
	err := s.update(ctx, user)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return newAuthError(KindInternalConsistency, msgSessionUserGone, err)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return newAuthError(KindEmailAlreadyRegistered, msgEmailInUse, err)
	case IsLostRace(err):
		return newAuthError(KindDuplicateKey, msgConcurrentUpdate, err)
	}
	return err
}
