package rpcrelay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// RegisterProviderArgs describes a new provider.
type RegisterProviderArgs struct {
	ChainID              uint64 `json:"chain_id"`
	ServiceURL           string `json:"service_url"`
	APIKey               string `json:"api_key"`
	CyclesPerCall        uint64 `json:"cycles_per_call"`
	CyclesPerMessageByte uint64 `json:"cycles_per_message_byte"`
}

// Transferer moves withdrawn cycles to an account outside the gateway.
type Transferer interface {
	Transfer(ctx context.Context, target string, amount *uint256.Int) error
}

// ProviderRegistry stores providers and their accrued balances.
type ProviderRegistry struct {
	store      store.Store
	auth       *AuthStore
	transferer Transferer
	logger     *zap.Logger
}

func NewProviderRegistry(s store.Store, auth *AuthStore, transferer Transferer, logger *zap.Logger) *ProviderRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transferer == nil {
		transferer = &LogTransferer{logger: logger}
	}
	return &ProviderRegistry{store: s, auth: auth, transferer: transferer, logger: logger}
}

// Register stores a provider owned by caller and returns its id. The id
// counter and the record are written in the same transaction.
func (r *ProviderRegistry) Register(caller common.Identity, args RegisterProviderArgs) (uint64, error) {
	ok, err := r.auth.HasRole(caller, common.RoleRegisterProvider)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s may not register providers", ErrForbidden, caller)
	}

	var id uint64
	err = r.store.Update(func(tx store.Tx) error {
		var meta common.Metadata
		if err := store.GetJSON(tx, []byte(common.KeyMetadata), &meta); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		id = meta.NextProviderID
		meta.NextProviderID++
		if err := store.PutJSON(tx, []byte(common.KeyMetadata), meta); err != nil {
			return err
		}
		return store.PutJSON(tx, common.ProviderKey(id), &common.Provider{
			ProviderID:           id,
			Owner:                caller,
			ChainID:              args.ChainID,
			ServiceURL:           args.ServiceURL,
			APIKey:               args.APIKey,
			CyclesPerCall:        args.CyclesPerCall,
			CyclesPerMessageByte: args.CyclesPerMessageByte,
			CyclesOwed:           common.ZeroCycles(),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("registering provider: %w", err)
	}
	r.logger.Info("registered provider", zap.Uint64("providerID", id), zap.Stringer("owner", caller), zap.Uint64("chainID", args.ChainID))
	return id, nil
}

// Unregister deletes provider id. A missing provider is not an error. A
// caller that is neither the owner nor an admin gets ErrProviderOwnership
// and nothing changes.
func (r *ProviderRegistry) Unregister(caller common.Identity, id uint64) error {
	isAdmin, err := r.auth.HasRole(caller, common.RoleAdmin)
	if err != nil {
		return err
	}
	deleted := false
	err = r.store.Update(func(tx store.Tx) error {
		var p common.Provider
		if err := store.GetJSON(tx, common.ProviderKey(id), &p); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if p.Owner != caller && !isAdmin {
			return fmt.Errorf("%w %d: caller %s is not the owner", ErrProviderOwnership, id, caller)
		}
		deleted = true
		return tx.Delete(common.ProviderKey(id))
	})
	if err != nil {
		return err
	}
	if deleted {
		r.logger.Info("unregistered provider", zap.Uint64("providerID", id), zap.Stringer("caller", caller))
	}
	return nil
}

// Get resolves a provider including its key.
func (r *ProviderRegistry) Get(id uint64) (*common.Provider, error) {
	p := new(common.Provider)
	err := r.store.View(func(tx store.Tx) error {
		return store.GetJSON(tx, common.ProviderKey(id), p)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProviderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if p.CyclesOwed == nil {
		p.CyclesOwed = common.ZeroCycles()
	}
	return p, nil
}

// List returns the public view of every provider in id order.
func (r *ProviderRegistry) List() ([]common.ProviderSummary, error) {
	out := make([]common.ProviderSummary, 0)
	err := r.store.View(func(tx store.Tx) error {
		return tx.Iterate([]byte(common.KeyPrefixProvider), func(key, value []byte) error {
			var p common.Provider
			if err := store.DecodeJSON(key, value, &p); err != nil {
				return err
			}
			out = append(out, p.Summary())
			return nil
		})
	})
	return out, err
}

// Accrue adds amount to the balance of provider id. The record is read again
// inside the write so a concurrent unregister is never undone; a missing
// provider makes this a no-op.
func (r *ProviderRegistry) Accrue(id uint64, amount *uint256.Int) error {
	return r.store.Update(func(tx store.Tx) error {
		var p common.Provider
		if err := store.GetJSON(tx, common.ProviderKey(id), &p); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.logger.Debug("provider gone before accrual", zap.Uint64("providerID", id))
				return nil
			}
			return err
		}
		if p.CyclesOwed == nil {
			p.CyclesOwed = common.ZeroCycles()
		}
		p.CyclesOwed.Add(p.CyclesOwed, amount)
		return store.PutJSON(tx, common.ProviderKey(id), &p)
	})
}

// Withdraw hands the current balance of provider id to target. Any caller
// with RegisterProvider may withdraw and the balance is left untouched.
func (r *ProviderRegistry) Withdraw(ctx context.Context, caller common.Identity, id uint64, target string) (*uint256.Int, error) {
	ok, err := r.auth.HasRole(caller, common.RoleRegisterProvider)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s may not withdraw", ErrForbidden, caller)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: missing withdraw target", ErrInvalidArgument)
	}
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err = r.transferer.Transfer(ctx, target, p.CyclesOwed); err != nil {
		return nil, fmt.Errorf("transferring %s cycles of provider %d to %s: %w", p.CyclesOwed.Dec(), id, target, err)
	}
	r.logger.Info("withdrew provider balance",
		zap.Uint64("providerID", id),
		zap.Stringer("caller", caller),
		zap.String("target", target),
		zap.String("amount", p.CyclesOwed.Dec()))
	return p.CyclesOwed, nil
}

// Count returns the number of registered providers.
func (r *ProviderRegistry) Count() (int, error) {
	n := 0
	err := r.store.View(func(tx store.Tx) error {
		return tx.Iterate([]byte(common.KeyPrefixProvider), func(key, value []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// LedgerTransferer posts transfers to an external ledger service.
type LedgerTransferer struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewLedgerTransferer(url string, client *http.Client, logger *zap.Logger) *LedgerTransferer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerTransferer{url: url, client: client, logger: logger}
}

type transferRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (l *LedgerTransferer) Transfer(ctx context.Context, target string, amount *uint256.Int) error {
	outcome, err := httpclient.Fetch(ctx, l.client, httpclient.Call{
		Method: http.MethodPost,
		URL:    l.url,
		Body:   transferRequest{Account: target, Amount: amount.Dec()},
	}, nil)
	fields := []zap.Field{
		zap.String("target", target),
		zap.String("amount", amount.Dec()),
		zap.Int("ledgerStatus", outcome.Status),
		zap.Duration("ledgerDuration", outcome.Duration),
	}
	if err != nil {
		l.logger.Error("ledger transfer failed", append(fields, zap.Error(err))...)
		return err
	}
	l.logger.Info("ledger transfer done", fields...)
	return nil
}

// LogTransferer only records the transfer. It is used when no ledger is
// configured.
type LogTransferer struct {
	logger *zap.Logger
}

func NewLogTransferer(logger *zap.Logger) *LogTransferer {
	return &LogTransferer{logger: logger}
}

func (l *LogTransferer) Transfer(_ context.Context, target string, amount *uint256.Int) error {
	l.logger.Warn("no ledger configured, transfer only logged", zap.String("target", target), zap.String("amount", amount.Dec()))
	return nil
}
