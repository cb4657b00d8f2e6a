package registry

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, key string) (*Registry, *store.PushStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ps := store.NewPushStore(db)
	return New(ps, key, slog.New(slog.NewTextHandler(io.Discard, nil))), ps
}

func validSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(secret),
	}
}

func TestValidate(t *testing.T) {
	good := validSubscription(t, "https://fcm.googleapis.com/fcm/send/abc")
	require.NoError(t, Validate(good))

	// Browsers may hand out standard padded base64.
	point, _ := base64.RawURLEncoding.DecodeString(good.P256dh)
	secret, _ := base64.RawURLEncoding.DecodeString(good.Auth)
	std := Subscription{
		Endpoint: good.Endpoint,
		P256dh:   base64.StdEncoding.EncodeToString(point),
		Auth:     base64.StdEncoding.EncodeToString(secret),
	}
	assert.NoError(t, Validate(std))

	tests := []struct {
		name   string
		mutate func(s *Subscription)
	}{
		{"relative endpoint", func(s *Subscription) { s.Endpoint = "/push/abc" }},
		{"ftp endpoint", func(s *Subscription) { s.Endpoint = "ftp://push.example.com/abc" }},
		{"empty endpoint", func(s *Subscription) { s.Endpoint = "" }},
		{"empty p256dh", func(s *Subscription) { s.P256dh = "" }},
		{"short p256dh", func(s *Subscription) { s.P256dh = base64.RawURLEncoding.EncodeToString(point[:33]) }},
		{"p256dh off curve", func(s *Subscription) {
			bad := append([]byte{}, point...)
			bad[64] ^= 0xff
			s.P256dh = base64.RawURLEncoding.EncodeToString(bad)
		}},
		{"garbage auth", func(s *Subscription) { s.Auth = "!!!" }},
		{"long auth", func(s *Subscription) { s.Auth = base64.RawURLEncoding.EncodeToString(make([]byte, 32)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := good
			tt.mutate(&sub)
			err := Validate(sub)
			assert.True(t, errors.Is(err, ErrInvalidSubscription), "error = %v", err)
		})
	}
}

func TestReplace(t *testing.T) {
	r, ps := newTestRegistry(t, "key-current")

	first, err := r.Replace(1, validSubscription(t, "https://push.example.com/one"))
	require.NoError(t, err)
	assert.Equal(t, "key-current", first.VAPIDKey)

	second, err := r.Replace(1, validSubscription(t, "https://push.example.com/two"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	subs, err := ps.ListByUser(1)
	require.NoError(t, err)
	require.Len(t, subs, 1, "replace must leave exactly one row per user")
	assert.Equal(t, "https://push.example.com/two", subs[0].Endpoint)

	_, err = r.Replace(1, Subscription{Endpoint: "https://push.example.com/three"})
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	current, err := r.Current(1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID, "invalid input must not touch the stored row")
}

func TestDelete(t *testing.T) {
	r, _ := newTestRegistry(t, "k")

	deleted, err := r.Delete(1)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = r.Replace(1, validSubscription(t, "https://push.example.com/one"))
	require.NoError(t, err)

	deleted, err = r.Delete(1)
	require.NoError(t, err)
	assert.True(t, deleted)

	current, err := r.Current(1)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestRecreateAfterKeyRotation(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ps := store.NewPushStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	old := New(ps, "key-old", logger)
	_, err = old.Replace(1, validSubscription(t, "https://push.example.com/old"))
	require.NoError(t, err)

	rotated := New(ps, "key-new", logger)
	stored, err := rotated.Current(1)
	require.NoError(t, err)
	assert.True(t, rotated.Stale(stored))
	assert.False(t, old.Stale(stored))

	previous, current, err := rotated.Recreate(1, validSubscription(t, "https://push.example.com/new"))
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, "https://push.example.com/old", previous.Endpoint)
	assert.Equal(t, "key-new", current.VAPIDKey)
	assert.False(t, rotated.Stale(current))

	n, err := rotated.CurrentKeyCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = old.CurrentKeyCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecreateWithoutPrevious(t *testing.T) {
	r, _ := newTestRegistry(t, "k")
	previous, current, err := r.Recreate(5, validSubscription(t, "https://push.example.com/x"))
	require.NoError(t, err)
	assert.Nil(t, previous)
	assert.Equal(t, int64(5), current.UserID)
}

func TestStaleIgnoresUntaggedRows(t *testing.T) {
	r, _ := newTestRegistry(t, "k")
	assert.False(t, r.Stale(nil))
	sub, err := r.Replace(1, validSubscription(t, "https://push.example.com/x"))
	require.NoError(t, err)
	sub.VAPIDKey = ""
	assert.False(t, r.Stale(sub))
}
