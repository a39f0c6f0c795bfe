// AngelaMos | 2026
// service_test.go

package user

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/goldsave/internal/auth"
	"github.com/carterperez-dev/goldsave/internal/core"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type memRepo struct {
	mu        sync.Mutex
	users     map[string]*User
	failWrite bool
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*User)}
}

func (m *memRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email && existing.DeletedAt == nil {
			return core.ErrDuplicateKey
		}
	}
	u.CreatedAt, u.UpdatedAt = testNow, testNow
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) live(id string) (*User, error) {
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, core.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.live(id)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && u.DeletedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.live(u.ID)
	if err != nil {
		return err
	}
	stored.Name, stored.Role = u.Name, u.Role
	return nil
}

func (m *memRepo) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.live(id)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (m *memRepo) SetActive(
	_ context.Context,
	id string,
	active bool,
	at time.Time,
) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return nil, fmt.Errorf("set active: %w", core.ErrUnavailable)
	}
	u, err := m.live(id)
	if err != nil {
		return nil, err
	}
	u.IsActive = active
	u.DeactivatedAt = nil
	if !active {
		u.DeactivatedAt = &at
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.live(id)
	if err != nil {
		return err
	}
	now := testNow
	u.DeletedAt = &now
	u.IsActive = false
	return nil
}

func (m *memRepo) List(_ context.Context, p ListUsersParams) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Normalize()
	var out []User
	for _, u := range m.users {
		if u.DeletedAt != nil {
			continue
		}
		if p.Active != nil && u.IsActive != *p.Active {
			continue
		}
		if p.Role != "" && u.Role != p.Role {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *memRepo) Counts(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, u := range m.users {
		if u.DeletedAt != nil {
			continue
		}
		c.Total++
		if u.IsActive {
			c.Active++
		}
		if u.IsAdmin() {
			c.Admins++
		}
	}
	return c, nil
}

type revocation struct {
	userID string
	reason string
}

type fakeRevoker struct {
	mu    sync.Mutex
	calls []revocation
	count int64
	err   error
}

func (f *fakeRevoker) RevokeUserSessions(
	_ context.Context,
	userID, reason string,
) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, revocation{userID: userID, reason: reason})
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *fakeRevoker) {
	t.Helper()
	repo := newMemRepo()
	revoker := &fakeRevoker{count: 3}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, revoker, fixedClock{}, logger), repo, revoker
}

func seedUser(t *testing.T, repo *memRepo, role string) *User {
	t.Helper()
	u := &User{
		ID:       uuid.New().String(),
		Email:    uuid.New().String()[:8] + "@example.com",
		Name:     "Seed",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func TestCreateNormalizesEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	info, err := svc.Create(ctx, "  Alice@Example.COM ", "hash", " Alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, "Alice", info.Name)
	assert.Equal(t, RoleUser, info.Role)
	assert.True(t, info.IsActive)

	found, err := svc.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, info.ID, found.ID)

	_, err = svc.Create(ctx, "alice@example.com", "hash", "Again")
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestDeactivateCascadesToSessions(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)

	change, err := svc.Deactivate(ctx, admin.ID, target.ID)
	require.NoError(t, err)

	assert.False(t, change.User.IsActive)
	require.NotNil(t, change.User.DeactivatedAt)
	assert.Equal(t, testNow, *change.User.DeactivatedAt)
	assert.Equal(t, int64(3), change.RevokedSessions)

	require.Len(t, revoker.calls, 1)
	assert.Equal(t, revocation{userID: target.ID, reason: auth.ReasonDeactivated}, revoker.calls[0])

	info, err := svc.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, info.IsActive)
}

func TestDeactivateLeavesUserInactiveWhenCascadeFails(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)
	revoker.err = fmt.Errorf("revoke: %w", core.ErrUnavailable)

	_, err := svc.Deactivate(ctx, admin.ID, target.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnavailable)

	stored, err := repo.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	revoker.err = nil
	change, err := svc.Deactivate(ctx, admin.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), change.RevokedSessions)
	assert.Len(t, revoker.calls, 2)
}

func TestDeactivateRejects(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	otherAdmin := seedUser(t, repo, RoleAdmin)

	tests := []struct {
		name    string
		target  string
		wantErr error
	}{
		{name: "self", target: admin.ID, wantErr: core.ErrForbidden},
		{name: "another admin", target: otherAdmin.ID, wantErr: core.ErrForbidden},
		{name: "unknown user", target: uuid.New().String(), wantErr: core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deactivate(ctx, admin.ID, tt.target)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, revoker.calls)
}

func TestDeactivateStoreUnavailable(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)
	repo.failWrite = true

	_, err := svc.Deactivate(ctx, admin.ID, target.ID)
	assert.ErrorIs(t, err, core.ErrUnavailable)
	assert.Empty(t, revoker.calls)
}

func TestActivate(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)

	_, err := svc.Deactivate(ctx, admin.ID, target.ID)
	require.NoError(t, err)

	change, err := svc.Activate(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, change.User.IsActive)
	assert.Nil(t, change.User.DeactivatedAt)
	assert.Zero(t, change.RevokedSessions)
	assert.Len(t, revoker.calls, 1)
}

func TestDeleteMeRevokesSessions(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, repo, RoleUser)

	require.NoError(t, svc.DeleteMe(ctx, u.ID))

	_, err := svc.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.Len(t, revoker.calls, 1)
	assert.Equal(t, auth.ReasonDeleted, revoker.calls[0].reason)

	assert.ErrorIs(t, svc.DeleteMe(ctx, ""), core.ErrUnauthorized)
	assert.ErrorIs(t, svc.DeleteMe(ctx, u.ID), core.ErrNotFound)
}

func TestDeleteUserByAdmin(t *testing.T) {
	svc, repo, revoker := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)

	assert.ErrorIs(t, svc.DeleteUser(ctx, admin.ID, admin.ID), core.ErrForbidden)
	require.NoError(t, svc.DeleteUser(ctx, admin.ID, target.ID))

	require.Len(t, revoker.calls, 1)
	assert.Equal(t, target.ID, revoker.calls[0].userID)
}

func TestUpdateUserRole(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)

	_, err := svc.UpdateUserRole(ctx, admin.ID, target.ID, "owner")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.UpdateUserRole(ctx, admin.ID, admin.ID, RoleUser)
	assert.ErrorIs(t, err, core.ErrForbidden)

	updated, err := svc.UpdateUserRole(ctx, admin.ID, target.ID, RoleAdmin)
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin())
}

func TestUpdateMe(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, repo, RoleUser)
	name := "  Renamed "

	updated, err := svc.UpdateMe(ctx, u.ID, UpdateUserRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	_, err = svc.UpdateMe(ctx, "", UpdateUserRequest{Name: &name})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestCounts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, repo, RoleAdmin)
	target := seedUser(t, repo, RoleUser)
	seedUser(t, repo, RoleUser)

	_, err := svc.Deactivate(ctx, admin.ID, target.ID)
	require.NoError(t, err)

	c, err := svc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 3, Active: 2, Admins: 1}, c)
}

func TestListUsersParamsNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         ListUsersParams
		wantPage   int
		wantSize   int
		wantOffset int
	}{
		{name: "defaults", in: ListUsersParams{}, wantPage: 1, wantSize: 20, wantOffset: 0},
		{name: "clamped size", in: ListUsersParams{Page: 3, PageSize: 500}, wantPage: 3, wantSize: 100, wantOffset: 200},
		{name: "negative page", in: ListUsersParams{Page: -2, PageSize: 10}, wantPage: 1, wantSize: 10, wantOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			p.Normalize()
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantSize, p.PageSize)
			assert.Equal(t, tt.wantOffset, p.Offset())
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}
