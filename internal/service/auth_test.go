package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/taskboard-auth/internal/config"
	"github.com/pribylovaa/taskboard-auth/internal/models"
	"github.com/pribylovaa/taskboard-auth/internal/password"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
	"github.com/pribylovaa/taskboard-auth/internal/token"
	"github.com/pribylovaa/taskboard-auth/mocks"
)

const testPassword = "Senha123!@#"

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock - подменяемые часы, общие для сервиса и кодеков.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *fakeClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

// fakeRecorder считает исходы операций.
type fakeRecorder struct {
	mu      sync.Mutex
	results map[string]int
	deleted int64
}

func (r *fakeRecorder) ObserveAuth(operation, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[operation+"/"+result]++
}

func (r *fakeRecorder) AddJanitorDeleted(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted += n
}

func (r *fakeRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[key]
}

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Issuer:          "taskboard-auth",
		BcryptCost:      bcrypt.MinCost,
	}
}

type fixture struct {
	svc    *Service
	access *token.Codec
	clock  *fakeClock
	rec    *fakeRecorder
	hasher *password.Bcrypt
}

func newFixture(t *testing.T, st storage.Storage) *fixture {
	t.Helper()

	cfg := testCfg()
	clk := newClock(t0)

	access, err := token.New(cfg.JWTSecret, cfg.Issuer, token.WithClock(clk.Now))
	require.NoError(t, err)
	refresh, err := token.New(cfg.RefreshSecret(), cfg.Issuer, token.WithClock(clk.Now))
	require.NoError(t, err)
	hasher, err := password.New(cfg.BcryptCost)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	svc := New(st, access, refresh, hasher, cfg, WithClock(clk.Now), WithRecorder(rec))

	return &fixture{svc: svc, access: access, clock: clk, rec: rec, hasher: hasher}
}

func newMockFixture(t *testing.T) (*fixture, *mocks.MockStorage) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	return newFixture(t, st), st
}

func (f *fixture) storedUser(t *testing.T, id, version int64) *models.User {
	t.Helper()
	h, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	return &models.User{ID: id, Name: "A", Email: "a@x.com", PasswordHash: h, TokenVersion: version, CreatedAt: t0}
}

func (f *fixture) accessToken(t *testing.T, userID, version int64) string {
	t.Helper()
	raw, err := f.access.EncodeAccess(token.AccessClaims{UserID: userID, Email: "a@x.com", TokenVersion: version}, f.clock.Now(), testCfg().AccessTokenTTL)
	require.NoError(t, err)
	return raw
}

func (f *fixture) refreshToken(t *testing.T, userID int64) string {
	t.Helper()
	raw, err := f.svc.refresh.EncodeRefresh(userID, f.clock.Now(), testCfg().RefreshTokenTTL)
	require.NoError(t, err)
	return raw
}

func TestRegister_OK(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		require.Equal(t, "A", u.Name)
		require.Equal(t, "a@x.com", u.Email)
		require.NotEqual(t, testPassword, u.PasswordHash)
		require.Zero(t, u.TokenVersion)
		require.Equal(t, t0, u.CreatedAt)
		u.ID = 1
		return nil
	})

	pu, err := f.svc.Register(context.Background(), " A ", "  A@X.com ", testPassword)
	require.NoError(t, err)
	require.Equal(t, models.PublicUser{ID: 1, Name: "A", Email: "a@x.com"}, pu)
	require.Equal(t, 1, f.rec.count("register/ok"))
}

func TestRegister_EmailInUse_OnLookup(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(&models.User{ID: 1}, nil)

	_, err := f.svc.Register(context.Background(), "A", "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrEmailInUse)
	require.Equal(t, KindEmailInUse, KindOf(err))
	require.Equal(t, ClassConflict, ClassOf(err))
	require.Equal(t, 1, f.rec.count("register/email_in_use"))
}

func TestRegister_EmailInUse_OnSaveRace(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := f.svc.Register(context.Background(), "A", "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrEmailInUse)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestRegister_StorageError_IsInternal(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(nil, errors.New("db down"))

	_, err := f.svc.Register(context.Background(), "A", "a@x.com", testPassword)
	require.Error(t, err)
	require.Equal(t, KindUnknown, KindOf(err))
	require.Equal(t, ClassInternal, ClassOf(err))
	require.Equal(t, 1, f.rec.count("register/unknown"))
}

func TestLogin_OK_IncrementsVersionAndPersistsRefresh(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 0)

	var saved *models.RefreshToken
	gomock.InOrder(
		st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil),
		st.EXPECT().IncrementTokenVersion(gomock.Any(), int64(7)).Return(int64(1), nil),
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rt *models.RefreshToken) error {
			saved = rt
			return nil
		}),
		st.EXPECT().DeleteExpiredUserTokens(gomock.Any(), int64(7), t0).Return(nil),
	)

	sess, err := f.svc.Login(context.Background(), "A@x.com", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.RefreshToken)
	require.NotEqual(t, sess.AccessToken, sess.RefreshToken)
	require.Equal(t, models.PublicUser{ID: 7, Name: "A", Email: "a@x.com"}, sess.User)
	require.Equal(t, t0.Add(15*time.Minute), sess.AccessExpiresAt)

	claims, err := f.access.DecodeAccess(sess.AccessToken)
	require.NoError(t, err)
	require.EqualValues(t, 1, claims.TokenVersion)
	require.EqualValues(t, 7, claims.UserID)

	require.NotNil(t, saved)
	require.Equal(t, HashRefreshToken(sess.RefreshToken), saved.TokenHash)
	require.NotEqual(t, sess.RefreshToken, saved.TokenHash, "raw token is never persisted")
	require.EqualValues(t, 7, saved.UserID)
	require.Equal(t, t0.Add(7*24*time.Hour), saved.ExpiresAt)
}

func TestLogin_UnknownUserAndWrongPassword_AreIndistinguishable(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 0)

	st.EXPECT().UserByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil)

	_, errUnknown := f.svc.Login(context.Background(), "ghost@x.com", testPassword)
	_, errWrong := f.svc.Login(context.Background(), "a@x.com", "Wrong123!@#")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.Equal(t, errUnknown.Error(), errWrong.Error())
	require.Equal(t, ClassUnauthenticated, ClassOf(errWrong))
	require.Equal(t, 2, f.rec.count("login/invalid_credentials"))
}

func TestLogin_CleanupFailure_IsNotFatal(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 4)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil)
	st.EXPECT().IncrementTokenVersion(gomock.Any(), int64(7)).Return(int64(5), nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().DeleteExpiredUserTokens(gomock.Any(), int64(7), gomock.Any()).Return(errors.New("timeout"))

	sess, err := f.svc.Login(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)

	claims, err := f.access.DecodeAccess(sess.AccessToken)
	require.NoError(t, err)
	require.EqualValues(t, 5, claims.TokenVersion)
}

func TestLogin_RefreshCollision_Retried(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 0)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil)
	st.EXPECT().IncrementTokenVersion(gomock.Any(), int64(7)).Return(int64(1), nil)
	gomock.InOrder(
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists),
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil),
	)
	st.EXPECT().DeleteExpiredUserTokens(gomock.Any(), int64(7), gomock.Any()).Return(nil)

	_, err := f.svc.Login(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)
}

func TestLogin_RefreshCollision_Exhausted(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 0)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil)
	st.EXPECT().IncrementTokenVersion(gomock.Any(), int64(7)).Return(int64(1), nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists).Times(maxRefreshAttempts)

	_, err := f.svc.Login(context.Background(), "a@x.com", testPassword)
	require.Error(t, err)
	require.Equal(t, KindUnknown, KindOf(err))
}

func TestLogin_IncrementError_Propagated(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	user := f.storedUser(t, 7, 0)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(user, nil)
	st.EXPECT().IncrementTokenVersion(gomock.Any(), int64(7)).Return(int64(0), errors.New("conn reset"))

	_, err := f.svc.Login(context.Background(), "a@x.com", testPassword)
	require.Error(t, err)
	require.Equal(t, ClassInternal, ClassOf(err))
}

func TestValidateAccess(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.accessToken(t, 7, 2)
		st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(f.storedUser(t, 7, 2), nil)

		id, err := f.svc.ValidateAccess(context.Background(), raw)
		require.NoError(t, err)
		require.Equal(t, models.Identity{UserID: 7, Email: "a@x.com", Name: "A"}, id)
	})

	t.Run("superseded by newer login", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.accessToken(t, 7, 1)
		st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(f.storedUser(t, 7, 2), nil)

		_, err := f.svc.ValidateAccess(context.Background(), raw)
		require.ErrorIs(t, err, ErrTokenSuperseded)
		require.Equal(t, ClassUnauthenticated, ClassOf(err))
	})

	t.Run("user gone", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.accessToken(t, 7, 1)
		st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(nil, storage.ErrNotFound)

		_, err := f.svc.ValidateAccess(context.Background(), raw)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("garbage", func(t *testing.T) {
		f, _ := newMockFixture(t)

		_, err := f.svc.ValidateAccess(context.Background(), "garbage")
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
		require.ErrorIs(t, err, token.ErrMalformed)
	})

	t.Run("expired", func(t *testing.T) {
		f, _ := newMockFixture(t)
		raw := f.accessToken(t, 7, 1)
		f.clock.Advance(15 * time.Minute)

		_, err := f.svc.ValidateAccess(context.Background(), raw)
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
		require.ErrorIs(t, err, token.ErrExpired)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		f, _ := newMockFixture(t)

		_, err := f.svc.ValidateAccess(context.Background(), f.refreshToken(t, 7))
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
	})

	t.Run("storage error", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.accessToken(t, 7, 1)
		st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(nil, errors.New("db down"))

		_, err := f.svc.ValidateAccess(context.Background(), raw)
		require.Equal(t, ClassInternal, ClassOf(err))
	})
}

func TestRefresh_OK_UsesCurrentVersion(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	raw := f.refreshToken(t, 7)
	hash := HashRefreshToken(raw)

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
		Return(&models.RefreshToken{TokenHash: hash, UserID: 7, ExpiresAt: t0.Add(time.Hour)}, nil)
	st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(f.storedUser(t, 7, 9), nil)

	grant, err := f.svc.Refresh(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, models.PublicUser{ID: 7, Name: "A", Email: "a@x.com"}, grant.User)

	claims, err := f.access.DecodeAccess(grant.AccessToken)
	require.NoError(t, err)
	require.EqualValues(t, 9, claims.TokenVersion)
	require.Equal(t, 1, f.rec.count("refresh/ok"))
}

func TestRefresh_InvalidToken_NoStorageAccess(t *testing.T) {
	t.Parallel()

	f, _ := newMockFixture(t)

	_, err := f.svc.Refresh(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.Refresh(context.Background(), f.accessToken(t, 7, 1))
	require.ErrorIs(t, err, ErrTokenInvalid, "access token is rejected by the refresh codec")
}

func TestRefresh_NotFound(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	raw := f.refreshToken(t, 7)

	st.EXPECT().RefreshTokenByHash(gomock.Any(), HashRefreshToken(raw)).Return(nil, storage.ErrNotFound)

	_, err := f.svc.Refresh(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenNotFound)
	require.False(t, errors.Is(err, ErrTokenExpired))
}

func TestRefresh_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	t.Run("expires_at == now is expired and deleted", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.refreshToken(t, 7)
		hash := HashRefreshToken(raw)

		st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
			Return(&models.RefreshToken{TokenHash: hash, UserID: 7, ExpiresAt: t0}, nil)
		st.EXPECT().DeleteRefreshToken(gomock.Any(), hash).Return(nil)

		_, err := f.svc.Refresh(context.Background(), raw)
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("1ms before expires_at is valid", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.refreshToken(t, 7)
		hash := HashRefreshToken(raw)

		st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
			Return(&models.RefreshToken{TokenHash: hash, UserID: 7, ExpiresAt: t0.Add(time.Millisecond)}, nil)
		st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(f.storedUser(t, 7, 1), nil)

		_, err := f.svc.Refresh(context.Background(), raw)
		require.NoError(t, err)
	})

	t.Run("delete failure still reports expiry", func(t *testing.T) {
		f, st := newMockFixture(t)
		raw := f.refreshToken(t, 7)
		hash := HashRefreshToken(raw)

		st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
			Return(&models.RefreshToken{TokenHash: hash, UserID: 7, ExpiresAt: t0.Add(-time.Second)}, nil)
		st.EXPECT().DeleteRefreshToken(gomock.Any(), hash).Return(errors.New("db down"))

		_, err := f.svc.Refresh(context.Background(), raw)
		require.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestRefresh_SubjectMismatch(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	raw := f.refreshToken(t, 7)
	hash := HashRefreshToken(raw)

	// Запись с тем же ключом, но принадлежащая другому пользователю.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
		Return(&models.RefreshToken{TokenHash: hash, UserID: 8, ExpiresAt: t0.Add(time.Hour)}, nil)

	_, err := f.svc.Refresh(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefresh_UserGone(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	raw := f.refreshToken(t, 7)
	hash := HashRefreshToken(raw)

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).
		Return(&models.RefreshToken{TokenHash: hash, UserID: 7, ExpiresAt: t0.Add(time.Hour)}, nil)
	st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(nil, storage.ErrNotFound)

	_, err := f.svc.Refresh(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRevoke_Idempotent(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	hash := HashRefreshToken("some-token")
	st.EXPECT().DeleteRefreshToken(gomock.Any(), hash).Return(nil).Times(2)

	require.NoError(t, f.svc.Revoke(context.Background(), "some-token"))
	require.NoError(t, f.svc.Revoke(context.Background(), "some-token"))
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	st.EXPECT().DeleteUserRefreshTokens(gomock.Any(), int64(7)).Return(nil)
	st.EXPECT().DeleteUserRefreshTokens(gomock.Any(), int64(8)).Return(errors.New("db down"))

	require.NoError(t, f.svc.RevokeAll(context.Background(), 7))
	require.Error(t, f.svc.RevokeAll(context.Background(), 8))
}

func TestUserInfo(t *testing.T) {
	t.Parallel()

	f, st := newMockFixture(t)
	st.EXPECT().UserByID(gomock.Any(), int64(7)).Return(f.storedUser(t, 7, 3), nil)
	st.EXPECT().UserByID(gomock.Any(), int64(8)).Return(nil, storage.ErrNotFound)

	info, err := f.svc.UserInfo(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, models.UserInfo{ID: 7, Name: "A", Email: "a@x.com", CreatedAt: t0}, info)

	_, err = f.svc.UserInfo(context.Background(), 8)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestKind_StringAndClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "token_superseded", KindTokenSuperseded.String())
	require.Equal(t, "kind(200)", Kind(200).String())
	require.Equal(t, ClassInternal, Kind(200).Class())
	require.Equal(t, KindUnknown, KindOf(nil))

	err := fail("op", KindTokenExpired, nil)
	require.Equal(t, "op: token_expired", err.Error())
	require.False(t, errors.Is(err, ErrTokenNotFound))
}
