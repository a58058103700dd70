package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

// countLinks reports how many link records exist, pending or not. It
// destroys them in the process.
func countLinks(t *testing.T, st store.Store) int64 {
	t.Helper()

	n, err := st.MagicLinks().DeleteExpired(context.Background(), time.Now().AddDate(100, 0, 0))
	require.NoError(t, err)
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

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

// fakeMailer records every message it is asked to send. When send is set
// it decides the outcome.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mailx.Message
	send func(ctx context.Context, msg mailx.Message) error
}

func (m *fakeMailer) Send(ctx context.Context, msg mailx.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	send := m.send
	m.mu.Unlock()

	if send != nil {
		return send(ctx, msg)
	}
	return nil
}

func (m *fakeMailer) Messages() []mailx.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailx.Message(nil), m.sent...)
}

var secretPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// secretFrom pulls the link secret out of an emailed message.
func secretFrom(t *testing.T, msg mailx.Message) string {
	t.Helper()

	m := secretPattern.FindStringSubmatch(msg.TextBody)
	require.Len(t, m, 2, "no link in message body")
	return m[1]
}
