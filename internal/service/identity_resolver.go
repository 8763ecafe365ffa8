package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"go.uber.org/zap"
)

const defaultStoreTimeout = 3 * time.Second

// ResolverConfig tunes the identity resolver
type ResolverConfig struct {
	BCryptCost   int
	StoreTimeout time.Duration
}

// identityResolver implements IdentityResolver interface
type identityResolver struct {
	users    repository.UserRepository
	locker   KeyLocker
	notifier Notifier
	metrics  *ResolverMetrics
	logger   *zap.Logger
	cfg      ResolverConfig
}

// NewIdentityResolver creates a new identity resolver
func NewIdentityResolver(
	users repository.UserRepository,
	locker KeyLocker,
	notifier Notifier,
	metrics *ResolverMetrics,
	logger *zap.Logger,
	cfg ResolverConfig,
) IdentityResolver {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	return &identityResolver{
		users:    users,
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// AuthenticateLocal checks an email and password against the stored bcrypt hash
func (s *identityResolver) AuthenticateLocal(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = newAuthError(KindNotFound, fmt.Sprintf(msgEmailNotFound, email), err)
		}
		return nil, s.fail(ctx, flowLocal, "", err)
	}

	if !user.HasPassword() || !utils.CheckPasswordHash(password, user.PasswordHash) {
		return nil, s.fail(ctx, flowLocal, "", newAuthError(KindInvalidCredential, msgInvalidCredential, nil))
	}

	s.succeed(ctx, flowLocal, "", string(OutcomeSignedIn), user.ID)
	return user, nil
}

// Register creates a local account
func (s *identityResolver) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)

	if !utils.ValidateEmail(email) {
		return nil, s.fail(ctx, flowRegister, "", newAuthError(KindInvalidInput, msgInvalidEmail, nil))
	}

	if !utils.ValidatePassword(password) {
		return nil, s.fail(ctx, flowRegister, "", newAuthError(KindInvalidInput, msgInvalidPassword, nil))
	}

	unlock, err := s.lock(ctx, emailLockKey(email))
	if err != nil {
		return nil, s.fail(ctx, flowRegister, "", err)
	}
	defer unlock()

	_, err = s.findByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, s.fail(ctx, flowRegister, "", newAuthError(KindEmailAlreadyRegistered, msgAccountExists, nil))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, s.fail(ctx, flowRegister, "", err)
	}

	passwordHash, err := utils.HashPassword(password, s.cfg.BCryptCost)
	if err != nil {
		return nil, s.fail(ctx, flowRegister, "", newAuthError(KindInvalidInput, msgInvalidPassword, err))
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: passwordHash,
	}

	if err := s.create(ctx, user); err != nil {
		if IsLostRace(err) {
			err = newAuthError(KindEmailAlreadyRegistered, msgAccountExists, err)
		}
		return nil, s.fail(ctx, flowRegister, "", err)
	}

	s.succeed(ctx, flowRegister, "", string(OutcomeCreated), user.ID)
	return user, nil
}

// HandleOAuthCallback resolves a provider callback to a user
func (s *identityResolver) HandleOAuthCallback(ctx context.Context, identity *domain.ExternalIdentity, sessionUserID string) (*Resolution, error) {
	if identity == nil || identity.Provider == "" || identity.ProviderUserID == "" {
		return nil, s.fail(ctx, flowOAuth, "", newAuthError(KindInvalidInput, fmt.Sprintf(msgInvalidIdentity, "The provider"), nil))
	}

	var (
		res *Resolution
		err error
	)
	if sessionUserID != "" {
		res, err = s.linkProvider(ctx, identity, sessionUserID)
	} else {
		res, err = s.signInOrRegister(ctx, identity)
	}

	if err != nil {
		return nil, s.fail(ctx, flowOAuth, string(identity.Provider), err)
	}

	s.succeed(ctx, flowOAuth, string(identity.Provider), string(res.Outcome), res.User.ID)
	return res, nil
}

// linkProvider attaches the provider account to the signed in user
func (s *identityResolver) linkProvider(ctx context.Context, identity *domain.ExternalIdentity, sessionUserID string) (*Resolution, error) {
	provider := identity.Provider

	unlock, err := s.lock(ctx,
		providerLockKey(string(provider), identity.ProviderUserID),
		userLockKey(sessionUserID),
	)
	if err != nil {
		return nil, err
	}
	defer unlock()

	owner, err := s.findByProvider(ctx, provider, identity.ProviderUserID)
	switch {
	case err == nil && owner.ID != sessionUserID:
		return nil, s.providerConflict(ctx, sessionUserID, provider, nil)
	case err == nil:
		return &Resolution{User: owner, Outcome: OutcomeAlreadyLinked}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	user, err := s.findByID(ctx, sessionUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		}
		return nil, err
	}

	user.SetLink(provider, identity.ProviderUserID)
	user.AppendToken(provider, identity.AccessToken)
	user.Profile.FillMissing(identity.Profile)

	if err := s.update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateOAuthProvider):
			return nil, s.providerConflict(ctx, sessionUserID, provider, err)
		case errors.Is(err, repository.ErrNotFound):
			return nil, newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		case IsLostRace(err):
			return nil, newAuthError(KindDuplicateKey, msgConcurrentUpdate, err)
		}
		return nil, err
	}

	message := fmt.Sprintf(msgAccountLinked, provider.DisplayName())
	s.notify(ctx, Notification{
		Kind:     NotificationInfo,
		UserID:   user.ID,
		Provider: provider,
		Text:     message,
	})

	return &Resolution{User: user, Outcome: OutcomeLinked, Message: message}, nil
}

// signInOrRegister signs a returning provider account in or creates a new user
func (s *identityResolver) signInOrRegister(ctx context.Context, identity *domain.ExternalIdentity) (*Resolution, error) {
	provider := identity.Provider
	email := domain.NormalizeEmail(identity.Email)

	keys := []string{providerLockKey(string(provider), identity.ProviderUserID)}
	if email != "" {
		keys = append(keys, emailLockKey(email))
	}

	unlock, err := s.lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.findByProvider(ctx, provider, identity.ProviderUserID)
	switch {
	case err == nil:
		return &Resolution{User: existing, Outcome: OutcomeSignedIn}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	if email == "" {
		name := provider.DisplayName()
		return nil, newAuthError(KindEmailRequired, fmt.Sprintf(msgEmailRequired, name, name), nil)
	}

	_, err = s.findByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, s.emailConflict(ctx, provider, nil)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	user := &domain.User{
		Email:   email,
		Profile: identity.Profile,
	}
	user.SetLink(provider, identity.ProviderUserID)
	user.AppendToken(provider, identity.AccessToken)

	if err := s.create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateOAuthProvider):
			return nil, newAuthError(KindProviderAlreadyLinked, fmt.Sprintf(msgProviderAlreadyLinked, provider.DisplayName()), err)
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, newAuthError(KindEmailAlreadyRegistered, fmt.Sprintf(msgEmailAlreadyRegistered, provider.DisplayName()), err)
		case IsLostRace(err):
			return nil, newAuthError(KindDuplicateKey, msgConcurrentUpdate, err)
		}
		return nil, err
	}

	return &Resolution{User: user, Outcome: OutcomeCreated}, nil
}

// UnlinkProvider removes a provider link and its tokens from the user
func (s *identityResolver) UnlinkProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.User, error) {
	unlock, err := s.lock(ctx, userLockKey(userID))
	if err != nil {
		return nil, s.fail(ctx, flowUnlink, string(provider), err)
	}
	defer unlock()

	user, err := s.findByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		}
		return nil, s.fail(ctx, flowUnlink, string(provider), err)
	}

	if _, linked := user.Link(provider); !linked {
		return user, nil
	}

	if !user.HasPassword() && len(user.Links) == 1 {
		err := newAuthError(KindLastLoginMethod, fmt.Sprintf(msgLastLoginMethod, provider.DisplayName()), nil)
		return nil, s.fail(ctx, flowUnlink, string(provider), err)
	}

	user.RemoveLink(provider)

	if err := s.update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			err = newAuthError(KindInternalConsistency, msgSessionUserGone, err)
		case IsLostRace(err):
			err = newAuthError(KindDuplicateKey, msgConcurrentUpdate, err)
		}
		return nil, s.fail(ctx, flowUnlink, string(provider), err)
	}

	s.notify(ctx, Notification{
		Kind:     NotificationInfo,
		UserID:   user.ID,
		Provider: provider,
		Text:     UnlinkedMessage(provider),
	})

	s.succeed(ctx, flowUnlink, string(provider), "unlinked", user.ID)
	return user, nil
}

// GetUser gets user information
func (s *identityResolver) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(KindNotFound, msgUserNotFound, err)
		}
		return nil, err
	}
	return user, nil
}

// UnlinkedMessage is the info message shown after a provider was unlinked
func UnlinkedMessage(provider domain.Provider) string {
	return fmt.Sprintf(msgAccountUnlinked, provider.DisplayName())
}

func (s *identityResolver) providerConflict(ctx context.Context, userID string, provider domain.Provider, cause error) *AuthError {
	conflict := newAuthError(KindProviderAlreadyLinked, fmt.Sprintf(msgProviderAlreadyLinked, provider.DisplayName()), cause)
	s.notify(ctx, Notification{
		Kind:     NotificationError,
		UserID:   userID,
		Provider: provider,
		Text:     conflict.Message,
	})
	return conflict
}

func (s *identityResolver) emailConflict(ctx context.Context, provider domain.Provider, cause error) *AuthError {
	conflict := newAuthError(KindEmailAlreadyRegistered, fmt.Sprintf(msgEmailAlreadyRegistered, provider.DisplayName()), cause)
	s.notify(ctx, Notification{
		Kind:     NotificationError,
		Provider: provider,
		Text:     conflict.Message,
	})
	return conflict
}

func (s *identityResolver) lock(ctx context.Context, keys ...string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		s.logger.Error("failed to acquire identity lock", zap.Strings("keys", keys), zap.Error(err))
		return nil, newAuthError(KindStoreUnavailable, msgStoreUnavailable, err)
	}
	return unlock, nil
}

func (s *identityResolver) findByEmail(ctx context.Context, email string) (*domain.User, error) {
	return storeCall(ctx, s, "find_by_email", func(ctx context.Context) (*domain.User, error) {
		return s.users.GetByEmail(ctx, email)
	})
}

func (s *identityResolver) findByID(ctx context.Context, id string) (*domain.User, error) {
	return storeCall(ctx, s, "find_by_id", func(ctx context.Context) (*domain.User, error) {
		return s.users.GetByID(ctx, id)
	})
}

func (s *identityResolver) findByProvider(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.User, error) {
	return storeCall(ctx, s, "find_by_provider", func(ctx context.Context) (*domain.User, error) {
		return s.users.GetByProvider(ctx, provider, providerUserID)
	})
}

func (s *identityResolver) create(ctx context.Context, user *domain.User) error {
	_, err := storeCall(ctx, s, "create", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.Create(ctx, user)
	})
	return err
}

func (s *identityResolver) update(ctx context.Context, user *domain.User) error {
	_, err := storeCall(ctx, s, "update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.Update(ctx, user)
	})
	return err
}

// storeCall runs fn under the store timeout. Missing records and uniqueness
// violations come back as repository errors; anything else, including a
// timeout, becomes StoreUnavailable.
func storeCall[T any](ctx context.Context, s *identityResolver, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	if ctx.Err() == nil && (errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrDuplicateKey)) {
		return result, err
	}

	s.logger.Error("identity store call failed", zap.String("op", op), zap.Error(err))

	var zero T
	return zero, newAuthError(KindStoreUnavailable, msgStoreUnavailable, err)
}

func (s *identityResolver) fail(ctx context.Context, flow, provider string, err error) error {
	kind := KindOf(err)
	if kind == "" {
		kind = KindStoreUnavailable
		err = newAuthError(kind, msgStoreUnavailable, err)
	}

	s.metrics.record(ctx, flow, provider, string(kind))
	s.logger.Info("authentication failed",
		zap.String("flow", flow),
		zap.String("provider", provider),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	return err
}

func (s *identityResolver) succeed(ctx context.Context, flow, provider, outcome, userID string) {
	s.metrics.record(ctx, flow, provider, outcome)
	s.logger.Info("authentication resolved",
		zap.String("flow", flow),
		zap.String("provider", provider),
		zap.String("outcome", outcome),
		zap.String("user_id", userID),
	)
}

func (s *identityResolver) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}

	n.At = time.Now()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver notification",
			zap.String("kind", string(n.Kind)),
			zap.String("provider", string(n.Provider)),
			zap.Error(err),
		)
	}
}
