package ban

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/cornchan/cornchan/internal/store"
)

var testNow = time.Unix(1700000000, 0)

func newTestGate(t *testing.T) (*Gate, store.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })

	g := NewGate(s)
	g.now = func() time.Time { return testNow }
	return g, s, mr
}

func putExpiry(t *testing.T, s store.Store, ip string, expiry int64) {
	t.Helper()
	d := Digest(ip)
	err := s.Put(context.Background(), store.TableBannedIPs, string(d[:]), []byte(strconv.FormatInt(expiry, 10)))
	require.NoError(t, err)
}

func hasRecord(t *testing.T, s store.Store, ip string) bool {
	t.Helper()
	d := Digest(ip)
	_, err := s.Get(context.Background(), store.TableBannedIPs, string(d[:]))
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestDigest(t *testing.T) {
	d := Digest("127.0.0.1")
	assert.Len(t, d, 28)
	assert.Equal(t, len(sha3.Sum224(nil)), DigestSize)
	assert.Equal(t, d, Digest("127.0.0.1"))
	assert.NotEqual(t, d, Digest("127.0.0.2"))

	// SHA3-224 of the empty string
	empty := Digest("")
	assert.Equal(t, "6b4e03423667dbb73b6e15454f0eb1abd4597f9a1b078e3f5b5a6bc7", hex.EncodeToString(empty[:]))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		expiry      *int64
		wantErr     error
		wantRemains bool
	}{
		{name: "no record", expiry: nil, wantErr: nil, wantRemains: false},
		{name: "active ban", expiry: int64Ptr(testNow.Unix() + 3600), wantErr: ErrBanned, wantRemains: true},
		{name: "expired ban", expiry: int64Ptr(testNow.Unix() - 1), wantErr: nil, wantRemains: false},
		{name: "expires now", expiry: int64Ptr(testNow.Unix()), wantErr: nil, wantRemains: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, s, _ := newTestGate(t)
			ip := "203.0.113.7"
			if tt.expiry != nil {
				putExpiry(t, s, ip, *tt.expiry)
			}

			err := g.Check(context.Background(), ip)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRemains, hasRecord(t, s, ip))
		})
	}
}

func TestCheckOtherAddressUnaffected(t *testing.T) {
	g, s, _ := newTestGate(t)
	putExpiry(t, s, "198.51.100.1", testNow.Unix()+3600)

	assert.NoError(t, g.Check(context.Background(), "198.51.100.2"))
	assert.ErrorIs(t, g.Check(context.Background(), "198.51.100.1"), ErrBanned)
}

func TestBanAndUnban(t *testing.T) {
	g, s, _ := newTestGate(t)
	ctx := context.Background()
	ip := "2001:db8::1"

	require.NoError(t, g.Ban(ctx, ip, testNow.Add(time.Hour)))
	assert.ErrorIs(t, g.Check(ctx, ip), ErrBanned)

	d := Digest(ip)
	raw, err := s.Get(ctx, store.TableBannedIPs, string(d[:]))
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(testNow.Unix()+3600, 10), string(raw))

	require.NoError(t, g.Unban(ctx, ip))
	assert.NoError(t, g.Check(ctx, ip))
}

func TestCheckInvalidRecord(t *testing.T) {
	g, s, _ := newTestGate(t)
	d := Digest("192.0.2.1")
	require.NoError(t, s.Put(context.Background(), store.TableBannedIPs, string(d[:]), []byte("soon")))

	err := g.Check(context.Background(), "192.0.2.1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBanned))
}

func TestCheckStoreUnavailable(t *testing.T) {
	g, _, mr := newTestGate(t)
	mr.Close()

	err := g.Check(context.Background(), "192.0.2.1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func int64Ptr(v int64) *int64 {
	return &v
}
