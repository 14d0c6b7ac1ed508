package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/lib/jwt"
	"github.com/darunbjork/InsightAPI/internal/lib/password"
	"github.com/darunbjork/InsightAPI/internal/lib/sl"
	"github.com/darunbjork/InsightAPI/internal/storage"
)

// Manager owns the session lifecycle: it issues token pairs, rotates
// refresh tokens, and contains replayed ones. All mutable state lives in
// the stores, so a Manager is safe for concurrent use.
type Manager struct {
	logger      *slog.Logger
	saver       PrincipalSaver
	provider    PrincipalProvider
	revocations RevocationStore
	hasher      *password.Hasher
	codec       *jwt.Codec
	publisher   message.Publisher
	dummyHash   []byte
}

type PrincipalSaver interface {
	SavePrincipal(
		ctx context.Context,
		username string,
		email string,
		passHash []byte,
	) (*models.Principal, error)
}

type PrincipalProvider interface {
	PrincipalByEmail(
		ctx context.Context,
		email string,
	) (*models.Principal, error)
	PrincipalByID(
		ctx context.Context,
		principalID string,
	) (*models.Principal, error)
	PrincipalByUsernameOrEmail(
		ctx context.Context,
		username string,
		email string,
	) (*models.Principal, error)
}

// RevocationStore answers "has this token id ever been retired for this
// principal". Each method is atomic at single-principal granularity.
type RevocationStore interface {
	AppendRevokedToken(ctx context.Context, principalID, tokenID string) error
	IsTokenRevoked(ctx context.Context, principalID, tokenID string) (bool, error)
	ClearRevokedTokens(ctx context.Context, principalID string) error
}

var (
	ErrPrincipalExists   = errors.New("principal already exists")
	ErrAuthFailed        = errors.New("invalid email or password")
	ErrInvalidToken      = errors.New("invalid refresh token")
	ErrTokenExpired      = errors.New("refresh token expired")
	ErrAuthCompromised   = errors.New("refresh token reuse detected")
	ErrPrincipalNotFound = errors.New("principal not found")
)

// New returns a new instance of the session Manager. A nil publisher
// disables lifecycle events.
func New(
	logger *slog.Logger,
	saver PrincipalSaver,
	provider PrincipalProvider,
	revocations RevocationStore,
	hasher *password.Hasher,
	codec *jwt.Codec,
	publisher message.Publisher,
) *Manager {
	dummyHash, _ := hasher.Hash("not-a-real-password")

	return &Manager{
		logger:      logger,
		saver:       saver,
		provider:    provider,
		revocations: revocations,
		hasher:      hasher,
		codec:       codec,
		publisher:   publisher,
		dummyHash:   dummyHash,
	}
}

// Register creates a principal and mints its first token pair.
func (m *Manager) Register(
	ctx context.Context,
	username string,
	email string,
	pass string,
) (*models.Principal, *models.TokenPair, error) {
	const op = "session.Register"
	log := m.logger.With(
		slog.String("op", op),
		slog.String("username", username),
		slog.String("email", email),
	)
	log.Info("register request")

	_, err := m.provider.PrincipalByUsernameOrEmail(ctx, username, email)
	if err == nil {
		log.Warn("principal already exists")
		return nil, nil, fmt.Errorf("%s: %w", op, ErrPrincipalExists)
	}
	if !errors.Is(err, storage.ErrPrincipalNotFound) {
		log.Error("failed to check existing principal", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := m.hasher.Hash(pass)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	principal, err := m.saver.SavePrincipal(ctx, username, email, passHash)
	if err != nil {
		// The uniqueness check above races with concurrent registrations;
		// the store's unique constraint is the authority.
		if errors.Is(err, storage.ErrPrincipalExists) {
			log.Warn("principal already exists", sl.Err(err))
			return nil, nil, fmt.Errorf("%s: %w", op, ErrPrincipalExists)
		}
		log.Error("failed to save principal", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := m.mintPair(principal)
	if err != nil {
		log.Error("failed to mint token pair", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("principal registered", slog.String("principalID", principal.ID))
	m.publish(TopicRegistered, principal.ID, "")

	return principal, pair, nil
}

// Login authenticates by email and password and mints a new token pair.
// A missing principal and a wrong password are indistinguishable to the
// caller, both in error and in timing.
func (m *Manager) Login(
	ctx context.Context,
	email string,
	pass string,
) (*models.Principal, *models.TokenPair, error) {
	const op = "session.Login"
	log := m.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("email", email))

	principal, err := m.provider.PrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrPrincipalNotFound) {
			// Burn a digest verification so the miss costs the same as a
			// mismatch.
			m.hasher.Verify(pass, m.dummyHash)
			log.Warn("principal not found")
			return nil, nil, fmt.Errorf("%s: %w", op, ErrAuthFailed)
		}
		log.Error("failed to get principal", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if !m.hasher.Verify(pass, principal.PassHash) {
		log.Warn("invalid password")
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAuthFailed)
	}

	pair, err := m.mintPair(principal)
	if err != nil {
		log.Error("failed to mint token pair", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("principal logged in", slog.String("principalID", principal.ID))
	m.publish(TopicLoggedIn, principal.ID, "")

	return principal, pair, nil
}

// Refresh rotates a refresh token: the old token id is retired and a new
// pair is minted. A token id that was already retired means the token was
// replayed; the whole revocation set is wiped and the caller must
// re-authenticate.
func (m *Manager) Refresh(
	ctx context.Context,
	refreshToken string,
) (*models.TokenPair, error) {
	const op = "session.Refresh"
	log := m.logger.With(slog.String("op", op))
	log.Info("refresh request")

	claims, err := m.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			log.Warn("refresh token expired")
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		log.Warn("refresh token rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	principal, err := m.provider.PrincipalByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrPrincipalNotFound) {
			log.Warn("principal not found", slog.String("principalID", claims.Subject))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to get principal", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := m.revocations.IsTokenRevoked(ctx, principal.ID, claims.ID)
	if err != nil {
		log.Error("failed to check revocation set", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		// A retired id came back: a stale client retry or a stolen token.
		// The two cannot be told apart, so the set is wiped and the caller
		// is forced to re-authenticate.
		if err := m.revocations.ClearRevokedTokens(ctx, principal.ID); err != nil {
			log.Error("failed to wipe revocation set", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Warn("refresh token replayed, revocation set wiped",
			slog.String("principalID", principal.ID),
			slog.String("tokenID", claims.ID),
		)
		m.publish(TopicCompromised, principal.ID, claims.ID)
		return nil, fmt.Errorf("%s: %w", op, ErrAuthCompromised)
	}

	pair, err := m.mintPair(principal)
	if err != nil {
		log.Error("failed to mint token pair", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.revocations.AppendRevokedToken(ctx, principal.ID, claims.ID); err != nil {
		log.Error("failed to retire refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens rotated", slog.String("principalID", principal.ID))

	return pair, nil
}

// Logout retires the refresh token when it verifies, and reports nothing
// either way. A token that does not verify already cannot be used, which
// is all the caller asked for.
func (m *Manager) Logout(ctx context.Context, refreshToken string) {
	const op = "session.Logout"
	log := m.logger.With(slog.String("op", op))
	log.Info("logout request")

	claims, err := m.codec.VerifyRefresh(refreshToken)
	if err != nil {
		log.Debug("logout with unverifiable token", sl.Err(err))
		return
	}

	if err := m.revocations.AppendRevokedToken(ctx, claims.Subject, claims.ID); err != nil {
		log.Warn("failed to retire refresh token on logout", sl.Err(err))
		return
	}

	log.Info("principal logged out", slog.String("principalID", claims.Subject))
	m.publish(TopicLoggedOut, claims.Subject, claims.ID)
}

// Principal returns the stored principal for an authenticated request.
func (m *Manager) Principal(ctx context.Context, principalID string) (*models.Principal, error) {
	const op = "session.Principal"
	log := m.logger.With(slog.String("op", op), slog.String("principalID", principalID))

	principal, err := m.provider.PrincipalByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, storage.ErrPrincipalNotFound) {
			log.Warn("principal not found")
			return nil, fmt.Errorf("%s: %w", op, ErrPrincipalNotFound)
		}
		log.Error("failed to get principal", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return principal, nil
}

// mintPair signs a fresh access and refresh token for the principal.
func (m *Manager) mintPair(principal *models.Principal) (*models.TokenPair, error) {
	accessToken, err := m.codec.SignAccess(principal.ID, principal.Username)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.codec.SignRefresh(principal.ID, jwt.NewTokenID(principal.ID))
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
