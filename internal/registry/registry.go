// Package registry owns the server side of push subscriptions: one active
// subscription per user, replaced wholesale on every resubscribe.
package registry

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
	"github.com/dukerupert/nudge/internal/vapid"
)

const authSecretLen = 16

// ErrInvalidSubscription wraps every validation failure of a client subscription.
var ErrInvalidSubscription = errors.New("invalid subscription")

// Subscription is what a client posts after creating a browser subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Registry validates and stores subscriptions, tagging each row with the
// VAPID public key it was created against.
type Registry struct {
	store    *store.PushStore
	vapidKey string
	logger   *slog.Logger
}

func New(ps *store.PushStore, vapidPublicKey string, logger *slog.Logger) *Registry {
	return &Registry{store: ps, vapidKey: vapidPublicKey, logger: logger}
}

// VAPIDKey is the public key new subscriptions must be created against.
func (r *Registry) VAPIDKey() string {
	return r.vapidKey
}

// Validate checks that the endpoint is an absolute http(s) URL and that the
// keys decode to a P-256 point and a 16-byte secret.
func Validate(sub Subscription) error {
	u, err := url.Parse(strings.TrimSpace(sub.Endpoint))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrInvalidSubscription)
	}

	point, err := vapid.DecodeKey(sub.P256dh)
	if err != nil {
		return fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscription, err)
	}
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return fmt.Errorf("%w: p256dh is not an uncompressed P-256 point", ErrInvalidSubscription)
	}

	secret, err := vapid.DecodeKey(sub.Auth)
	if err != nil {
		return fmt.Errorf("%w: auth: %v", ErrInvalidSubscription, err)
	}
	if len(secret) != authSecretLen {
		return fmt.Errorf("%w: auth must be %d bytes, got %d", ErrInvalidSubscription, authSecretLen, len(secret))
	}
	return nil
}

// Replace deletes any subscription the user holds and stores sub in its place.
func (r *Registry) Replace(userID int64, sub Subscription) (*model.PushSubscription, error) {
	if err := Validate(sub); err != nil {
		return nil, err
	}
	saved, err := r.store.ReplaceSubscription(userID, strings.TrimSpace(sub.Endpoint), sub.P256dh, sub.Auth, r.vapidKey)
	if err != nil {
		return nil, err
	}
	r.logger.Info("subscription replaced", "user_id", userID, "subscription_id", saved.ID)
	return saved, nil
}

// Delete removes the user's subscription. It reports whether a row existed.
func (r *Registry) Delete(userID int64) (bool, error) {
	deleted, err := r.store.DeleteByUser(userID)
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.Info("subscription deleted", "user_id", userID)
	}
	return deleted, nil
}

// Current returns the user's subscription, or nil.
func (r *Registry) Current(userID int64) (*model.PushSubscription, error) {
	return r.store.GetByUser(userID)
}

// Recreate is the rotation path: the client has dropped its old browser
// subscription and created sub against the current key. The previous server
// row, if any, is returned.
func (r *Registry) Recreate(userID int64, sub Subscription) (previous, current *model.PushSubscription, err error) {
	if err := Validate(sub); err != nil {
		return nil, nil, err
	}
	previous, err = r.store.GetByUser(userID)
	if err != nil {
		return nil, nil, err
	}
	current, err = r.store.ReplaceSubscription(userID, strings.TrimSpace(sub.Endpoint), sub.P256dh, sub.Auth, r.vapidKey)
	if err != nil {
		return nil, nil, err
	}

	attrs := []any{"user_id", userID, "subscription_id", current.ID}
	if previous != nil {
		attrs = append(attrs, "previous_id", previous.ID, "previous_key_stale", r.Stale(previous))
	}
	r.logger.Info("subscription recreated", attrs...)
	return previous, current, nil
}

// Stale reports whether sub was created against a key other than the current one.
// Rows written before keys were tracked carry an empty tag and are not stale.
func (r *Registry) Stale(sub *model.PushSubscription) bool {
	return sub != nil && sub.VAPIDKey != "" && sub.VAPIDKey != r.vapidKey
}

// CurrentKeyCount returns how many stored rows were created against the current key.
func (r *Registry) CurrentKeyCount() (int, error) {
	return r.store.CountByVAPIDKey(r.vapidKey)
}
