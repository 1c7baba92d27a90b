package refreshtoken

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/questlog/config"
	"github.com/tech-arch1tect/questlog/services/jwt"
	"github.com/tech-arch1tect/questlog/services/securityalert"
	"github.com/tech-arch1tect/questlog/services/tokenhash"
	"github.com/tech-arch1tect/questlog/testutils"
	"gorm.io/gorm"
)

type mockIssuer struct {
	generateTokenFunc func(subject jwt.Subject) (string, error)
	calls             atomic.Int32
}

func (m *mockIssuer) GenerateToken(subject jwt.Subject) (string, error) {
	n := m.calls.Add(1)
	if m.generateTokenFunc != nil {
		return m.generateTokenFunc(subject)
	}
	return "access-" + subject.Username + "-" + string(rune('0'+n)), nil
}

type mockSubjects struct {
	subjects map[uint]jwt.Subject
}

func (m *mockSubjects) LoadSubject(_ context.Context, id uint) (jwt.Subject, error) {
	s, ok := m.subjects[id]
	if !ok {
		return jwt.Subject{}, errors.New("user not found")
	}
	return s, nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []securityalert.Event
}

func (r *recordingAlerts) TokenReuse(_ context.Context, event securityalert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

var alice = jwt.Subject{ID: 1, Username: "alice", Email: "alice@questlog.local"}

type fixture struct {
	service *Service
	db      *gorm.DB
	issuer  *mockIssuer
	alerts  *recordingAlerts
	now     time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testutils.GetTestConfig()
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		db:     testutils.SetupTestDB(t, &RefreshToken{}),
		issuer: &mockIssuer{},
		alerts: &recordingAlerts{},
		now:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	subjects := &mockSubjects{subjects: map[uint]jwt.Subject{alice.ID: alice}}

	f.service = NewService(f.db, cfg, nil, f.issuer, subjects)
	f.service.SetAlertDispatcher(f.alerts)
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) load(t *testing.T, raw string) RefreshToken {
	t.Helper()
	var token RefreshToken
	require.NoError(t, f.db.Where("token_hash = ?", tokenhash.Hash(raw)).First(&token).Error)
	return token
}

var laptop = SessionInfo{
	IPAddress: "198.51.100.4",
	UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

func TestService_Issue(t *testing.T) {
	f := newFixture(t)

	issued, err := f.service.Issue(context.Background(), alice.ID, laptop)
	require.NoError(t, err)

	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, f.now.Add(24*time.Hour), issued.ExpiresAt)

	stored := f.load(t, issued.Token)
	assert.NotEqual(t, issued.Token, stored.TokenHash)
	assert.Len(t, stored.TokenHash, 64)
	assert.Equal(t, alice.ID, stored.UserID)
	assert.Equal(t, "198.51.100.4", stored.CreatedByIP)
	assert.Contains(t, stored.DeviceInfo, "Firefox")
	assert.Nil(t, stored.RevokedAt)
	_, err = uuid.Parse(stored.FamilyID)
	assert.NoError(t, err)

	other, err := f.service.Issue(context.Background(), alice.ID, SessionInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, issued.Token, other.Token)
	assert.NotEqual(t, stored.FamilyID, f.load(t, other.Token).FamilyID)
}

func TestService_Rotate(t *testing.T) {
	t.Run("succeeds exactly once", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		r1, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)

		result, err := f.service.Rotate(ctx, r1.Token, laptop)
		require.NoError(t, err)
		assert.NotEmpty(t, result.AccessToken)
		assert.NotEqual(t, r1.Token, result.RefreshToken)
		assert.Equal(t, alice.ID, result.UserID)
		assert.Equal(t, "alice", result.Username)

		old := f.load(t, r1.Token)
		successor := f.load(t, result.RefreshToken)
		require.NotNil(t, old.RevokedAt)
		assert.Equal(t, ReasonRotated, old.RevokeReason)
		assert.Equal(t, successor.TokenHash, old.ReplacedByHash)
		assert.Equal(t, laptop.IPAddress, old.RevokedByIP)
		assert.Equal(t, old.FamilyID, successor.FamilyID)
		assert.True(t, successor.IsActive(f.now))

		_, err = f.service.Rotate(ctx, r1.Token, laptop)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown and empty tokens", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Rotate(context.Background(), "does-not-exist", laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)

		_, err = f.service.Rotate(context.Background(), "", laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)
	})

	t.Run("expired tokens fail regardless of revocation", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		live, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)
		revoked, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)
		require.NoError(t, f.service.Revoke(ctx, revoked.Token, "198.51.100.4"))

		f.advance(24 * time.Hour)

		_, err = f.service.Rotate(ctx, live.Token, laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)

		_, err = f.service.Rotate(ctx, revoked.Token, laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)
		assert.NotErrorIs(t, err, ErrTokenReuseDetected)
		assert.Empty(t, f.alerts.events)
	})

	t.Run("issuer failure leaves the presented token usable", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		r1, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)

		f.issuer.generateTokenFunc = func(jwt.Subject) (string, error) { return "", errors.New("signing key unavailable") }
		_, err = f.service.Rotate(ctx, r1.Token, laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)

		var count int64
		require.NoError(t, f.db.Model(&RefreshToken{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
		assert.Nil(t, f.load(t, r1.Token).RevokedAt)

		f.issuer.generateTokenFunc = nil
		_, err = f.service.Rotate(ctx, r1.Token, laptop)
		assert.NoError(t, err)
	})

	t.Run("missing owner", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		orphan, err := f.service.Issue(ctx, 99, laptop)
		require.NoError(t, err)

		_, err = f.service.Rotate(ctx, orphan.Token, laptop)
		testutils.AssertErrorType(t, ErrInvalidToken, err)
		assert.Nil(t, f.load(t, orphan.Token).RevokedAt)
	})
}

func TestService_RotateReuse(t *testing.T) {
	t.Run("revoke family policy", func(t *testing.T) {
		f := newFixture(t)
		logger, logs := testutils.ObservedLogger()
		f.service.logger = logger
		ctx := context.Background()

		r1, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)
		rotated, err := f.service.Rotate(ctx, r1.Token, laptop)
		require.NoError(t, err)

		attacker := SessionInfo{IPAddress: "203.0.113.50", UserAgent: "curl/8.5.0"}
		_, err = f.service.Rotate(ctx, r1.Token, attacker)
		require.ErrorIs(t, err, ErrTokenReuseDetected)
		assert.ErrorIs(t, err, ErrInvalidToken)

		r2 := f.load(t, rotated.RefreshToken)
		require.NotNil(t, r2.RevokedAt)
		assert.Equal(t, ReasonReuseDetected, r2.RevokeReason)
		assert.Equal(t, "203.0.113.50", r2.RevokedByIP)

		_, err = f.service.Rotate(ctx, rotated.RefreshToken, laptop)
		assert.ErrorIs(t, err, ErrInvalidToken)

		audit := logs.FilterLoggerName("security").FilterMessage("token_reuse_detected").All()
		require.NotEmpty(t, audit)
		fields := audit[0].ContextMap()
		assert.Equal(t, "token_reuse_detected", fields["event"])
		assert.Equal(t, "203.0.113.50", fields["ip"])
		assert.Equal(t, r2.FamilyID, fields["family_id"])
		assert.Equal(t, 1, logs.FilterMessage("token_family_revoked").Len())

		require.Len(t, f.alerts.events, 1)
		event := f.alerts.events[0]
		assert.Equal(t, "alice@questlog.local", event.Email)
		assert.Equal(t, int64(1), event.RevokedSessions)
		assert.Equal(t, r2.FamilyID, event.FamilyID)

		// replaying again finds nothing left to revoke
		_, err = f.service.Rotate(ctx, r1.Token, attacker)
		require.ErrorIs(t, err, ErrTokenReuseDetected)
		assert.Equal(t, 3, logs.FilterMessage("token_reuse_detected").Len())
		assert.Equal(t, 1, logs.FilterMessage("token_family_revoked").Len())
	})

	t.Run("fail closed policy keeps the family", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) {
			cfg.RefreshToken.ReusePolicy = config.ReuseFailClosed
		})
		ctx := context.Background()

		r1, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)
		rotated, err := f.service.Rotate(ctx, r1.Token, laptop)
		require.NoError(t, err)

		_, err = f.service.Rotate(ctx, r1.Token, laptop)
		require.ErrorIs(t, err, ErrTokenReuseDetected)

		assert.Nil(t, f.load(t, rotated.RefreshToken).RevokedAt)
		assert.Empty(t, f.alerts.events)
	})

	t.Run("repeated replays leave state unchanged", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		r1, err := f.service.Issue(ctx, alice.ID, laptop)
		require.NoError(t, err)
		require.NoError(t, f.service.Revoke(ctx, r1.Token, "198.51.100.4"))

		before := f.load(t, r1.Token)
		for range 3 {
			_, err := f.service.Rotate(ctx, r1.Token, laptop)
			assert.ErrorIs(t, err, ErrInvalidToken)
		}
		after := f.load(t, r1.Token)

		assert.Equal(t, before.RevokedAt.UTC(), after.RevokedAt.UTC())
		assert.Equal(t, before.RevokeReason, after.RevokeReason)

		var count int64
		require.NoError(t, f.db.Model(&RefreshToken{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestService_RotateConcurrent(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RefreshToken.ReusePolicy = config.ReuseFailClosed
	})
	ctx := context.Background()

	r1, err := f.service.Issue(ctx, alice.ID, laptop)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Rotate(ctx, r1.Token, laptop)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidToken)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())

	var count int64
	require.NoError(t, f.db.Model(&RefreshToken{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestService_Revoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, err := f.service.Issue(ctx, alice.ID, laptop)
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, r1.Token, "198.51.100.4"))
	first := f.load(t, r1.Token)
	require.NotNil(t, first.RevokedAt)
	assert.Equal(t, ReasonLogout, first.RevokeReason)
	assert.Equal(t, "198.51.100.4", first.RevokedByIP)

	f.advance(time.Minute)
	require.NoError(t, f.service.Revoke(ctx, r1.Token, "192.0.2.1"))
	second := f.load(t, r1.Token)
	assert.Equal(t, first.RevokedAt.UTC(), second.RevokedAt.UTC())
	assert.Equal(t, "198.51.100.4", second.RevokedByIP)

	assert.NoError(t, f.service.Revoke(ctx, "never-issued", "192.0.2.1"))
	assert.NoError(t, f.service.Revoke(ctx, "", "192.0.2.1"))
}

func TestService_SessionsAndMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Issue(ctx, alice.ID, laptop)
	require.NoError(t, err)
	f.advance(time.Minute)
	second, err := f.service.Issue(ctx, alice.ID, SessionInfo{IPAddress: "192.0.2.8"})
	require.NoError(t, err)
	_, err = f.service.Issue(ctx, 2, laptop)
	require.NoError(t, err)

	active, err := f.service.ListActive(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, f.load(t, second.Token).ID, active[0].ID)
	assert.Equal(t, f.load(t, first.Token).ID, active[1].ID)

	revoked, err := f.service.RevokeAllForUser(ctx, alice.ID, "192.0.2.8")
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)
	assert.Equal(t, ReasonLogoutAll, f.load(t, first.Token).RevokeReason)

	active, err = f.service.ListActive(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.service.PurgeExpired(ctx, 0)
	assert.ErrorIs(t, err, ErrRetentionDisabled)

	f.advance(24*time.Hour + 30*time.Minute)
	deleted, err := f.service.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	f.advance(2 * time.Hour)
	deleted, err = f.service.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestSessionInfo_DeviceLabel(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		contains  []string
	}{
		{"empty", "", []string{"unknown device"}},
		{"desktop firefox", laptop.UserAgent, []string{"Firefox 128", "Linux", "(desktop)"}},
		{
			"iphone safari",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
			[]string{"Safari 17", "iOS", "(mobile)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label := SessionInfo{UserAgent: tt.userAgent}.DeviceLabel()
			for _, want := range tt.contains {
				assert.Contains(t, label, want)
			}
		})
	}
}
