package session_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/darunbjork/InsightAPI/internal/lib/jwt"
	"github.com/darunbjork/InsightAPI/internal/lib/password"
	"github.com/darunbjork/InsightAPI/internal/services/session"
	"github.com/darunbjork/InsightAPI/internal/storage/memory"
)

const passDefaultLen = 10

func newManager(t *testing.T, refreshTTL time.Duration, publisher message.Publisher) (*session.Manager, *jwt.Codec) {
	t.Helper()

	store := memory.New()
	codec := jwt.NewCodec("access-secret", "refresh-secret", 15*time.Minute, refreshTTL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	manager := session.New(logger, store, store, store, password.New(bcrypt.MinCost), codec, publisher)

	return manager, codec
}

// recordingPublisher captures published lifecycle events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []session.Event
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, msg := range messages {
		var event session.Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return err
		}
		p.topics = append(p.topics, topic)
		p.events = append(p.events, event)
	}

	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published(topic string) []session.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []session.Event
	for i, published := range p.topics {
		if published == topic {
			out = append(out, p.events[i])
		}
	}

	return out
}

func TestRegisterIssuesTokenPair(t *testing.T) {
	ctx := context.Background()
	manager, codec := newManager(t, time.Hour, nil)

	username := gofakeit.Username()
	email := gofakeit.Email()

	principal, pair, err := manager.Register(ctx, username, email, randomPassword())
	require.NoError(t, err)
	require.NotNil(t, principal)
	require.NotNil(t, pair)

	assert.NotEmpty(t, principal.ID)
	assert.Equal(t, username, principal.Username)
	assert.Equal(t, email, principal.Email)
	assert.False(t, principal.CreatedAt.IsZero())

	accessClaims, err := codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, principal.ID, accessClaims.Subject)
	assert.Equal(t, username, accessClaims.Username)

	refreshClaims, err := codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, principal.ID, refreshClaims.Subject)
	assert.True(t, strings.HasPrefix(refreshClaims.ID, principal.ID+"."))
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, time.Hour, nil)

	username := gofakeit.Username()
	email := gofakeit.Email()

	_, _, err := manager.Register(ctx, username, email, randomPassword())
	require.NoError(t, err)

	_, _, err = manager.Register(ctx, username, gofakeit.Email(), randomPassword())
	assert.ErrorIs(t, err, session.ErrPrincipalExists)

	_, _, err = manager.Register(ctx, gofakeit.Username(), email, randomPassword())
	assert.ErrorIs(t, err, session.ErrPrincipalExists)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	manager, codec := newManager(t, time.Hour, nil)

	email := gofakeit.Email()
	pass := randomPassword()

	registered, _, err := manager.Register(ctx, gofakeit.Username(), email, pass)
	require.NoError(t, err)

	principal, pair, err := manager.Login(ctx, email, pass)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, principal.ID)

	claims, err := codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.Subject)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, time.Hour, nil)

	email := gofakeit.Email()

	_, _, err := manager.Register(ctx, gofakeit.Username(), email, randomPassword())
	require.NoError(t, err)

	_, _, wrongPassErr := manager.Login(ctx, email, "wrong-password")
	require.ErrorIs(t, wrongPassErr, session.ErrAuthFailed)

	_, _, unknownEmailErr := manager.Login(ctx, gofakeit.Email(), "wrong-password")
	require.ErrorIs(t, unknownEmailErr, session.ErrAuthFailed)

	// Both failure paths must look identical to the caller.
	assert.Equal(t, wrongPassErr.Error(), unknownEmailErr.Error())
}

func TestRefreshRotatesTokens(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, time.Hour, nil)

	_, pair1, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	pair2, err := manager.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, pair2.AccessToken)
	assert.NotEqual(t, pair1.RefreshToken, pair2.RefreshToken)

	pair3, err := manager.Refresh(ctx, pair2.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair2.RefreshToken, pair3.RefreshToken)
}

func TestRefreshReplayWipesSet(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	manager, _ := newManager(t, time.Hour, publisher)

	principal, pair1, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	pair2, err := manager.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)

	// Replaying the consumed token reads as compromise.
	_, err = manager.Refresh(ctx, pair1.RefreshToken)
	require.ErrorIs(t, err, session.ErrAuthCompromised)

	events := publisher.published(session.TopicCompromised)
	require.Len(t, events, 1)
	assert.Equal(t, principal.ID, events[0].PrincipalID)
	assert.NotEmpty(t, events[0].TokenID)

	// The wipe leaves earlier, never-consumed tokens usable again.
	_, err = manager.Refresh(ctx, pair2.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshExpired(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, -time.Minute, nil)

	_, pair, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	_, err = manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, session.ErrTokenExpired)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	manager, codec := newManager(t, time.Hour, nil)

	_, _, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	_, err = manager.Refresh(ctx, "not-a-token")
	assert.ErrorIs(t, err, session.ErrInvalidToken)

	rogue := jwt.NewCodec("other-access", "other-refresh", time.Minute, time.Hour)
	forged, err := rogue.SignRefresh("p-1", jwt.NewTokenID("p-1"))
	require.NoError(t, err)

	_, err = manager.Refresh(ctx, forged)
	assert.ErrorIs(t, err, session.ErrInvalidToken)

	// Valid signature, unknown principal.
	ghost, err := codec.SignRefresh("ghost", jwt.NewTokenID("ghost"))
	require.NoError(t, err)

	_, err = manager.Refresh(ctx, ghost)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestLogoutRetiresToken(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	manager, _ := newManager(t, time.Hour, publisher)

	principal, pair, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	manager.Logout(ctx, pair.RefreshToken)

	events := publisher.published(session.TopicLoggedOut)
	require.Len(t, events, 1)
	assert.Equal(t, principal.ID, events[0].PrincipalID)

	// The retired token now reads as a replay.
	_, err = manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, session.ErrAuthCompromised)
}

func TestLogoutSwallowsGarbage(t *testing.T) {
	ctx := context.Background()
	manager, codec := newManager(t, time.Hour, nil)

	manager.Logout(ctx, "")
	manager.Logout(ctx, "garbage")

	// Verifiable token for a principal that does not exist.
	ghost, err := codec.SignRefresh("ghost", jwt.NewTokenID("ghost"))
	require.NoError(t, err)
	manager.Logout(ctx, ghost)
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	manager, _ := newManager(t, time.Hour, publisher)

	email := gofakeit.Email()
	pass := randomPassword()

	principal, _, err := manager.Register(ctx, gofakeit.Username(), email, pass)
	require.NoError(t, err)

	_, _, err = manager.Login(ctx, email, pass)
	require.NoError(t, err)

	registered := publisher.published(session.TopicRegistered)
	require.Len(t, registered, 1)
	assert.Equal(t, principal.ID, registered[0].PrincipalID)

	loggedIn := publisher.published(session.TopicLoggedIn)
	require.Len(t, loggedIn, 1)
	assert.Equal(t, principal.ID, loggedIn[0].PrincipalID)
	assert.False(t, loggedIn[0].At.IsZero())
}

func TestPrincipal(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, time.Hour, nil)

	registered, _, err := manager.Register(ctx, gofakeit.Username(), gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	principal, err := manager.Principal(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, registered.Email, principal.Email)

	_, err = manager.Principal(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrPrincipalNotFound)
}

func randomPassword() string {
	return gofakeit.Password(true, true, true, true, false, passDefaultLen)
}
