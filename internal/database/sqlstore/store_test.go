package sqlstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		PingTimeout:     time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSetGet(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "task:missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "task:1", []byte("v1"), time.Hour))
	require.NoError(t, s.Set(ctx, "task:1", []byte("v2"), time.Hour))
	b, err := s.Get(ctx, "task:1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
}

func TestSQLiteExpiry(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "task:1", []byte("v"), time.Minute))
	require.NoError(t, s.Set(ctx, "task:forever", []byte("v"), 0))

	now = now.Add(2 * time.Minute)
	_, err := s.Get(ctx, "task:1")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.Get(ctx, "task:forever")
	assert.NoError(t, err)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteSetNX(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	ok, err := s.SetNX(ctx, "payment:0x01", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "payment:0x01", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := s.Get(ctx, "payment:0x01")
	require.NoError(t, err)
	assert.Equal(t, "a", string(b))

	// expired rows can be claimed again
	now = now.Add(2 * time.Minute)
	ok, err = s.SetNX(ctx, "payment:0x01", []byte("c"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteKeys(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	for _, k := range []string{
		"payment:100:0xAbC",
		"payment:200:0xAbC",
		"payment:300:0xabc",
		"payment:0xdeadbeef",
		"task:payment_100",
	} {
		require.NoError(t, s.Set(ctx, k, []byte("x"), time.Hour))
	}

	keys, err := s.Keys(ctx, "payment:*:0xAbC")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"payment:100:0xAbC", "payment:200:0xAbC"}, keys)

	keys, err = s.Keys(ctx, "payment:0x*")
	require.NoError(t, err)
	assert.Equal(t, []string{"payment:0xdeadbeef"}, keys)

	keys, err = s.Keys(ctx, "task:payment_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"task:payment_100"}, keys)
}

func TestPostgresRebindAndErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, Postgres)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO kv_entries \(entry_key, entry_value, expires_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("task:1", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Set(ctx, "task:1", []byte("v"), time.Hour))

	mock.ExpectExec(`WHERE kv_entries.expires_at <> 0 AND kv_entries.expires_at <= \$4`).
		WithArgs("payment:0x01", []byte("v"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := s.SetNX(ctx, "payment:0x01", []byte("v"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("connection refused")
	mock.ExpectQuery(`SELECT entry_value FROM kv_entries WHERE entry_key = \$1`).
		WithArgs("task:2", sqlmock.AnyArg()).
		WillReturnError(boom)
	_, err = s.Get(ctx, "task:2")
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery(`SELECT entry_key FROM kv_entries WHERE entry_key LIKE \$1`).
		WithArgs(`task:%`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"entry_key"}).AddRow("task:a").AddRow("task:b"))
	keys, err := s.Keys(ctx, "task:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"task:a", "task:b"}, keys)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGlobToLike(t *testing.T) {
	assert.Equal(t, `payment:%:0xab`, globToLike("payment:*:0xab"))
	assert.Equal(t, `a\_b\%c%`, globToLike("a_b%c*"))
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"task:*", "task:abc", true},
		{"task:*", "payment:abc", false},
		{"payment:*:0xA", "payment:1:0xA", true},
		{"payment:*:0xA", "payment:1:0xa", false},
		{"exact", "exact", true},
		{"a*b*c", "axxbyyc", true},
		{"a*bc*c", "abc", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matchGlob(c.pattern, c.s), "%s ~ %s", c.pattern, c.s)
	}
}
