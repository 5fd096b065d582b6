package proxy

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager(t *testing.T, strategy Strategy, proxies ...string) (*Manager, *clock) {
	t.Helper()
	m, err := NewManager(proxies, strategy, time.Minute)
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func next(t *testing.T, m *Manager) string {
	t.Helper()
	u, err := m.Next()
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.Host
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: Sequential},
		{in: "Random", want: Random},
		{in: " smart ", want: Smart},
		{in: "round-robin", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewManagerInvalid(t *testing.T) {
	_, err := NewManager([]string{"not a url"}, Sequential, 0)
	assert.Error(t, err)
}

func TestNoProxies(t *testing.T) {
	m, _ := newManager(t, Sequential)
	u, err := m.Next()
	assert.NoError(t, err)
	assert.Nil(t, u)

	var nilManager *Manager
	u, err = nilManager.Next()
	assert.NoError(t, err)
	assert.Nil(t, u)
	assert.Zero(t, nilManager.Len())
}

func TestSequential(t *testing.T) {
	m, _ := newManager(t, Sequential, "http://a:1", "http://b:1", "http://c:1")

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, next(t, m))
	}
	assert.Equal(t, []string{"a:1", "b:1", "c:1", "a:1"}, got)
}

func TestRandomStaysInSet(t *testing.T) {
	m, _ := newManager(t, Random, "http://a:1", "http://b:1")
	for i := 0; i < 20; i++ {
		assert.Contains(t, []string{"a:1", "b:1"}, next(t, m))
	}
}

func TestBanAndExpiry(t *testing.T) {
	m, c := newManager(t, Sequential, "http://a:1", "http://b:1")

	a, _ := url.Parse("http://a:1")
	b, _ := url.Parse("http://b:1")
	m.ReportFailure(a)
	assert.Equal(t, "b:1", next(t, m))

	m.ReportFailure(b)
	_, err := m.Next()
	assert.ErrorIs(t, err, ErrAllProxiesBanned)

	c.advance(time.Minute + time.Second)
	_, err = m.Next()
	assert.NoError(t, err)
}

func TestSuccessLiftsBan(t *testing.T) {
	m, _ := newManager(t, Sequential, "http://a:1")
	a, _ := url.Parse("http://a:1")

	m.ReportFailure(a)
	_, err := m.Next()
	require.ErrorIs(t, err, ErrAllProxiesBanned)

	m.ReportSuccess(a)
	assert.Equal(t, "a:1", next(t, m))
}

func TestSmart(t *testing.T) {
	m, c := newManager(t, Smart, "http://a:1", "http://b:1", "http://c:1")
	a, _ := url.Parse("http://a:1")
	b, _ := url.Parse("http://b:1")
	cc, _ := url.Parse("http://c:1")

	// Equal ratios: least recently used wins, so all three get a turn.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		c.advance(time.Second)
		seen[next(t, m)] = true
	}
	assert.Len(t, seen, 3)

	m.ReportSuccess(a)
	m.ReportSuccess(b)
	m.ReportFailure(b)
	m.ReportSuccess(cc)
	m.ReportSuccess(cc)
	c.advance(2 * time.Minute)

	// a and c are both 100%; a was used earlier.
	assert.Equal(t, "a:1", next(t, m))
	c.advance(time.Second)
	assert.Equal(t, "c:1", next(t, m))
}

func TestStats(t *testing.T) {
	m, c := newManager(t, Sequential, "http://b:1", "http://a:1")
	a, _ := url.Parse("http://a:1")

	m.ReportSuccess(a)
	m.ReportFailure(a)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "http://a:1", stats[0].URL)
	assert.Equal(t, 1, stats[0].Success)
	assert.Equal(t, 1, stats[0].Failure)
	assert.Equal(t, c.t.Add(time.Minute), stats[0].BannedUntil)
	assert.True(t, stats[1].BannedUntil.IsZero())
}
