package rpcrelay

import (
	"errors"
	"fmt"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/store"
)

const (
	StablePageSize = 64 * 1024
	// MaxStableChunk bounds a single read or write.
	MaxStableChunk = 2 * 1024 * 1024
)

type stableMeta struct {
	Size uint64 `json:"size"`
}

// StableMemory is a flat byte region kept in the durable store as fixed size
// pages. It backs migration tooling and is gated by the stable-auth set.
type StableMemory struct {
	store   store.Store
	auth    *AuthStore
	metrics *Metrics
}

func NewStableMemory(s store.Store, auth *AuthStore, metrics *Metrics) *StableMemory {
	return &StableMemory{store: s, auth: auth, metrics: metrics}
}

func (m *StableMemory) gate(caller common.Identity) error {
	ok, err := m.auth.StableAuthorized(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not access stable storage", ErrForbidden, caller)
	}
	return nil
}

// Size returns the length of the region in bytes.
func (m *StableMemory) Size(caller common.Identity) (uint64, error) {
	if err := m.gate(caller); err != nil {
		return 0, err
	}
	return m.size()
}

// Read returns length bytes starting at offset.
func (m *StableMemory) Read(caller common.Identity, offset, length uint64) ([]byte, error) {
	if err := m.gate(caller); err != nil {
		return nil, err
	}
	if length > MaxStableChunk {
		return nil, fmt.Errorf("%w: read of %d bytes exceeds %d", ErrStableOutOfBounds, length, MaxStableChunk)
	}
	out := make([]byte, length)
	err := m.store.View(func(tx store.Tx) error {
		var meta stableMeta
		if err := readStableMeta(tx, &meta); err != nil {
			return err
		}
		end := offset + length
		if end < offset || end > meta.Size {
			return fmt.Errorf("%w: [%d, %d) past size %d", ErrStableOutOfBounds, offset, end, meta.Size)
		}
		return forEachPage(offset, length, func(page, pageOff, bufOff, n uint64) error {
			raw, err := tx.Get(common.StablePageKey(page))
			if errors.Is(err, store.ErrNotFound) {
				return nil // never written, reads as zero
			}
			if err != nil {
				return err
			}
			copy(out[bufOff:bufOff+n], raw[pageOff:pageOff+n])
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores data at offset, growing the region when needed.
func (m *StableMemory) Write(caller common.Identity, offset uint64, data []byte) error {
	if err := m.gate(caller); err != nil {
		return err
	}
	if len(data) > MaxStableChunk {
		return fmt.Errorf("%w: write of %d bytes exceeds %d", ErrStableOutOfBounds, len(data), MaxStableChunk)
	}
	length := uint64(len(data))
	end := offset + length
	if end < offset {
		return fmt.Errorf("%w: offset %d overflows", ErrStableOutOfBounds, offset)
	}

	var size uint64
	err := m.store.Update(func(tx store.Tx) error {
		var meta stableMeta
		if err := readStableMeta(tx, &meta); err != nil {
			return err
		}
		err := forEachPage(offset, length, func(page, pageOff, bufOff, n uint64) error {
			key := common.StablePageKey(page)
			raw, err := tx.Get(key)
			if errors.Is(err, store.ErrNotFound) {
				raw = make([]byte, StablePageSize)
			} else if err != nil {
				return err
			}
			copy(raw[pageOff:pageOff+n], data[bufOff:bufOff+n])
			return tx.Set(key, raw)
		})
		if err != nil {
			return err
		}
		if end > meta.Size {
			meta.Size = end
		}
		size = meta.Size
		return store.PutJSON(tx, []byte(common.KeyStableSize), meta)
	})
	if err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.SetStableBytes(size)
	}
	return nil
}

// size reads the region length without the access gate.
func (m *StableMemory) size() (uint64, error) {
	var meta stableMeta
	err := m.store.View(func(tx store.Tx) error {
		return readStableMeta(tx, &meta)
	})
	return meta.Size, err
}

func readStableMeta(tx store.Tx, meta *stableMeta) error {
	err := store.GetJSON(tx, []byte(common.KeyStableSize), meta)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// forEachPage splits [offset, offset+length) into per-page spans.
func forEachPage(offset, length uint64, fn func(page, pageOff, bufOff, n uint64) error) error {
	var done uint64
	for done < length {
		pos := offset + done
		page := pos / StablePageSize
		pageOff := pos % StablePageSize
		n := min(StablePageSize-pageOff, length-done)
		if err := fn(page, pageOff, done, n); err != nil {
			return err
		}
		done += n
	}
	return nil
}
