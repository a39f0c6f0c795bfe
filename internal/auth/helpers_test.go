// AngelaMos | 2026
// helpers_test.go

package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memRepository is an in-memory Repository. WithinTx serialises
// transactions and restores a snapshot when fn fails.
type memRepository struct {
	txMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]Session

	failReads     int
	duplicateNext int
	failCreate    error
	failUpdate    error
	updates       int

	// beforeRevoke runs under mu, letting a test simulate a concurrent
	// writer that revoked the row after it was read.
	beforeRevoke func(id string)
}

func newMemRepository() *memRepository {
	return &memRepository{sessions: make(map[string]Session)}
}

func (m *memRepository) readFault() error {
	if m.failReads > 0 {
		m.failReads--
		return fmt.Errorf("read: %w", ErrStoreUnavailable)
	}
	return nil
}

func (m *memRepository) WithinTx(
	ctx context.Context,
	fn func(Repository) error,
) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := make(map[string]Session, len(m.sessions))
	for k, v := range m.sessions {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.sessions = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memRepository) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return m.failCreate
	}
	if m.duplicateNext > 0 {
		m.duplicateNext--
		return fmt.Errorf("create session: %w", ErrDuplicateSecret)
	}
	for _, existing := range m.sessions {
		if existing.RefreshSecretHash == s.RefreshSecretHash {
			return fmt.Errorf("create session: %w", ErrDuplicateSecret)
		}
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memRepository) FindBySecretHash(
	_ context.Context,
	secretHash string,
) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFault(); err != nil {
		return nil, err
	}
	for _, s := range m.sessions {
		if s.RefreshSecretHash == secretHash {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("find session by secret: %w", core.ErrNotFound)
}

func (m *memRepository) FindByID(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFault(); err != nil {
		return nil, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("find session: %w", core.ErrNotFound)
	}
	return &s, nil
}

func (m *memRepository) filter(keep func(Session) bool) []Session {
	var out []Session
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *memRepository) FindActiveByUser(
	_ context.Context,
	userID string,
	now time.Time,
) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFault(); err != nil {
		return nil, err
	}
	return m.filter(func(s Session) bool {
		return s.UserID == userID && s.IsUsable(now)
	}), nil
}

func (m *memRepository) FindByDeviceAndUser(
	_ context.Context,
	userID, deviceID string,
) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFault(); err != nil {
		return nil, err
	}
	return m.filter(func(s Session) bool {
		return s.UserID == userID && s.DeviceInfo.DeviceID == deviceID
	}), nil
}

func (m *memRepository) FindCreatedSince(
	_ context.Context,
	userID string,
	since time.Time,
) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFault(); err != nil {
		return nil, err
	}
	return m.filter(func(s Session) bool {
		return s.UserID == userID && !s.CreatedAt.Before(since)
	}), nil
}

func (m *memRepository) Revoke(
	_ context.Context,
	id string,
	at time.Time,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beforeRevoke != nil {
		m.beforeRevoke(id)
	}
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("revoke session: %w", core.ErrNotFound)
	}
	if s.IsRevoked {
		return false, nil
	}
	s.revoke(at)
	m.sessions[id] = s
	return true, nil
}

func (m *memRepository) RevokeAllActiveForUser(
	_ context.Context,
	userID string,
	at time.Time,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID && s.IsUsable(at) {
			s.revoke(at)
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memRepository) MarkRotated(
	_ context.Context,
	id, replacedBy string,
	at time.Time,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !s.IsUsable(at) {
		return fmt.Errorf("mark session rotated: %w", core.ErrNotFound)
	}
	s.revoke(at)
	s.ReplacedByToken = &replacedBy
	m.sessions[id] = s
	return nil
}

func (m *memRepository) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate != nil {
		return m.failUpdate
	}
	stored, ok := m.sessions[s.ID]
	if !ok {
		return fmt.Errorf("update session: %w", core.ErrNotFound)
	}

	stored.SecurityInfo = s.SecurityInfo
	if !stored.IsRevoked {
		stored.IsRevoked = s.IsRevoked
		stored.RevokedAt = s.RevokedAt
		stored.ReplacedByToken = s.ReplacedByToken
	}
	m.sessions[s.ID] = stored
	m.updates++
	return nil
}

func (m *memRepository) DeleteExpired(
	_ context.Context,
	before time.Time,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepository) all() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(Session) bool { return true })
}

func (m *memRepository) get(t *testing.T, id string) Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	require.True(t, ok, "session %s not stored", id)
	return s
}

func (m *memRepository) bySecret(t *testing.T, secret string) Session {
	t.Helper()
	hash := core.HashToken(secret)
	for _, s := range m.all() {
		if s.RefreshSecretHash == hash {
			return s
		}
	}
	t.Fatalf("no session for secret")
	return Session{}
}

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*UserInfo
	clock   core.Clock
	failing bool
}

func newMemUsers(clock core.Clock) *memUsers {
	return &memUsers{byID: make(map[string]*UserInfo), clock: clock}
}

func (u *memUsers) GetByEmail(_ context.Context, email string) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.failing {
		return nil, fmt.Errorf("get user: %w", core.ErrUnavailable)
	}
	for _, user := range u.byID {
		if strings.EqualFold(user.Email, email) {
			cp := *user
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
}

func (u *memUsers) GetByID(_ context.Context, id string) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.failing {
		return nil, fmt.Errorf("get user: %w", core.ErrUnavailable)
	}
	user, ok := u.byID[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	cp := *user
	return &cp, nil
}

func (u *memUsers) Create(
	_ context.Context,
	email, passwordHash, name string,
) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, user := range u.byID {
		if strings.EqualFold(user.Email, email) {
			return nil, fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}

	user := &UserInfo{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         "user",
		IsActive:     true,
		CreatedAt:    u.clock.Now(),
	}
	u.byID[user.ID] = user
	cp := *user
	return &cp, nil
}

func (u *memUsers) UpdatePassword(
	_ context.Context,
	userID, passwordHash string,
) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.byID[userID]
	if !ok {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	user.PasswordHash = passwordHash
	return nil
}

func (u *memUsers) setActive(id string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.byID[id].IsActive = active
}

func (u *memUsers) remove(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.byID, id)
}

type fixture struct {
	svc     *Service
	repo    *memRepository
	users   *memUsers
	clock   *fakeClock
	codec   *TokenCodec
	revoker *Revoker
	metrics *Metrics
	reg     *prometheus.Registry
}

func testAnomalyPolicy() config.AnomalyConfig {
	return config.AnomalyConfig{
		MaxActiveSessions: 5,
		MaxRecentDevices:  3,
		RecentWindow:      time.Hour,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	repo := newMemRepository()
	users := newMemUsers(clock)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	logger := discardLogger()

	codec, err := NewTokenCodec(testJWTConfig(), clock)
	require.NoError(t, err)

	revoker := NewRevoker(repo, clock, metrics, logger)

	svc := NewService(ServiceConfig{
		Repo:     repo,
		Codec:    codec,
		Users:    users,
		Detector: NewDetector(repo, testAnomalyPolicy(), clock),
		Revoker:  revoker,
		Metrics:  metrics,
		Clock:    clock,
		Logger:   logger,
	})

	return &fixture{
		svc:     svc,
		repo:    repo,
		users:   users,
		clock:   clock,
		codec:   codec,
		revoker: revoker,
		metrics: metrics,
		reg:     reg,
	}
}

const testPassword = "correct-horse-battery"

func device(id string) DeviceRequest {
	return DeviceRequest{
		DeviceID:   id,
		DeviceName: "Pixel " + id,
		Platform:   string(PlatformAndroid),
		AppVersion: "2.4.1",
	}
}

var testMeta = ClientMeta{IPAddress: "203.0.113.7", UserAgent: "goldsave-android/2.4.1"}

func (f *fixture) signUp(t *testing.T, email, deviceID string) *AuthResponse {
	t.Helper()
	resp, err := f.svc.SignUp(context.Background(), SignUpRequest{
		Email:    email,
		Password: testPassword,
		Name:     "Saver",
		Device:   device(deviceID),
	}, testMeta)
	require.NoError(t, err)
	return resp
}

func (f *fixture) signIn(t *testing.T, email, deviceID string) *AuthResponse {
	t.Helper()
	resp, err := f.svc.SignIn(context.Background(), SignInRequest{
		Email:    email,
		Password: testPassword,
		Device:   device(deviceID),
	}, testMeta)
	require.NoError(t, err)
	return resp
}
