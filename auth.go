package rpcrelay

import (
	"errors"
	"fmt"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"go.uber.org/zap"
)

type authRecord struct {
	Roles common.RoleSet `json:"roles"`
}

// AuthStore keeps the role bits of every identity and the separate
// stable-storage membership set.
type AuthStore struct {
	store       store.Store
	logger      *zap.Logger
	openRelay   bool
	controllers map[common.Identity]struct{}
}

type AuthOption func(*AuthStore)

// WithOpenRelay lets every caller relay regardless of stored roles.
func WithOpenRelay(open bool) AuthOption {
	return func(a *AuthStore) {
		a.openRelay = open
	}
}

// WithControllers sets identities that always pass the stable-storage gate.
func WithControllers(ids ...common.Identity) AuthOption {
	return func(a *AuthStore) {
		for _, id := range ids {
			a.controllers[id] = struct{}{}
		}
	}
}

func WithAuthLogger(logger *zap.Logger) AuthOption {
	return func(a *AuthStore) {
		a.logger = logger
	}
}

func NewAuthStore(s store.Store, opts ...AuthOption) *AuthStore {
	a := &AuthStore{
		store:       s,
		logger:      zap.NewNop(),
		controllers: make(map[common.Identity]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasRole reports whether id holds role. The open relay override is checked
// before the stored bits.
func (a *AuthStore) HasRole(id common.Identity, role common.Role) (bool, error) {
	if role == common.RoleRelay && a.openRelay {
		return true, nil
	}
	roles, err := a.Roles(id)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}

// Roles returns the stored bits of id, zero when it has no entry.
func (a *AuthStore) Roles(id common.Identity) (common.RoleSet, error) {
	var rec authRecord
	err := a.store.View(func(tx store.Tx) error {
		return store.GetJSON(tx, common.AuthKey(id), &rec)
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading roles of %s: %w", id, err)
	}
	return rec.Roles, nil
}

// Authorize OR-merges role into the roles of id. Only admins may call it.
func (a *AuthStore) Authorize(caller, id common.Identity, role common.Role) error {
	isAdmin, err := a.HasRole(caller, common.RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("%w: %s is not an admin", ErrForbidden, caller)
	}
	if err = a.Grant(id, role); err != nil {
		return err
	}
	a.logger.Info("authorized identity", zap.Stringer("caller", caller), zap.Stringer("identity", id), zap.Stringer("role", role))
	return nil
}

// Grant merges roles into id without any caller check. It backs Authorize and
// the startup bootstrap.
func (a *AuthStore) Grant(id common.Identity, roles ...common.Role) error {
	return a.store.Update(func(tx store.Tx) error {
		var rec authRecord
		if err := store.GetJSON(tx, common.AuthKey(id), &rec); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		for _, role := range roles {
			rec.Roles = rec.Roles.With(role)
		}
		return store.PutJSON(tx, common.AuthKey(id), rec)
	})
}

// Bootstrap makes every id an admin.
func (a *AuthStore) Bootstrap(admins ...common.Identity) error {
	for _, id := range admins {
		if id == common.Anonymous {
			continue
		}
		if err := a.Grant(id, common.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrapping admin %s: %w", id, err)
		}
		a.logger.Info("bootstrapped admin", zap.Stringer("identity", id))
	}
	return nil
}

// ListAuthorized returns the identities holding role in key order.
func (a *AuthStore) ListAuthorized(caller common.Identity, role common.Role) ([]common.Identity, error) {
	isAdmin, err := a.HasRole(caller, common.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, fmt.Errorf("%w: %s is not an admin", ErrForbidden, caller)
	}

	ids := make([]common.Identity, 0)
	err = a.store.View(func(tx store.Tx) error {
		return tx.Iterate([]byte(common.KeyPrefixAuth), func(key, value []byte) error {
			var rec authRecord
			if err := store.DecodeJSON(key, value, &rec); err != nil {
				return err
			}
			if rec.Roles.Has(role) {
				ids = append(ids, common.IdentityFromKey(common.KeyPrefixAuth, key))
			}
			return nil
		})
	})
	return ids, err
}

// StableAuthorized reports whether caller may touch raw stable storage.
// Controllers always pass and are recorded. While the set is empty the first
// named caller to ask is admitted.
func (a *AuthStore) StableAuthorized(caller common.Identity) (bool, error) {
	if caller == common.Anonymous {
		return false, nil
	}
	_, isController := a.controllers[caller]
	granted := false
	err := a.store.Update(func(tx store.Tx) error {
		key := common.StableAuthKey(caller)
		if _, err := tx.Get(key); err == nil {
			granted = true
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// Every bootstrap reads and writes the marker, so two first callers
		// racing on an empty set conflict instead of both being granted.
		marker := []byte(common.KeyStableAuthBootstrapped)
		_, err := tx.Get(marker)
		switch {
		case err == nil:
			if !isController {
				return nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		case !isController:
			empty := true
			err := tx.Iterate([]byte(common.KeyPrefixStableAuth), func(key, value []byte) error {
				empty = false
				return errStopIteration
			})
			if err != nil && !errors.Is(err, errStopIteration) {
				return err
			}
			if !empty {
				return nil
			}
		}
		granted = true
		if err := tx.Set(marker, []byte{1}); err != nil {
			return err
		}
		return tx.Set(key, []byte{1})
	})
	if err != nil {
		return false, fmt.Errorf("checking stable authorization of %s: %w", caller, err)
	}
	return granted, nil
}

// StableAuthorize adds id to the stable-storage set. The caller must already
// be a member.
func (a *AuthStore) StableAuthorize(caller, id common.Identity) error {
	ok, err := a.StableAuthorized(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not access stable storage", ErrForbidden, caller)
	}
	if id == common.Anonymous {
		return fmt.Errorf("%w: empty identity", ErrInvalidArgument)
	}
	return a.store.Update(func(tx store.Tx) error {
		return tx.Set(common.StableAuthKey(id), []byte{1})
	})
}

var errStopIteration = errors.New("stop iteration")
