package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenBadger("", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"badger": db,
	}
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(func(tx Tx) error {
				_, err := tx.Get([]byte("missing"))
				return err
			})
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Update(func(tx Tx) error {
				return PutJSON(tx, []byte("k"), record{Name: "a", Count: 1})
			}))

			var got record
			require.NoError(t, s.View(func(tx Tx) error {
				return GetJSON(tx, []byte("k"), &got)
			}))
			assert.Equal(t, record{Name: "a", Count: 1}, got)

			require.NoError(t, s.Update(func(tx Tx) error {
				return tx.Delete([]byte("k"))
			}))
			err = s.View(func(tx Tx) error {
				return GetJSON(tx, []byte("k"), &got)
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(func(tx Tx) error {
				if err := tx.Set([]byte("k"), []byte("v")); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			err = s.View(func(tx Tx) error {
				_, err := tx.Get([]byte("k"))
				return err
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ReadYourWrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Update(func(tx Tx) error {
				if err := tx.Set([]byte("k"), []byte("v1")); err != nil {
					return err
				}
				v, err := tx.Get([]byte("k"))
				if err != nil {
					return err
				}
				assert.Equal(t, []byte("v1"), v)
				if err = tx.Delete([]byte("k")); err != nil {
					return err
				}
				_, err = tx.Get([]byte("k"))
				assert.ErrorIs(t, err, ErrNotFound)
				return nil
			}))
		})
	}
}

func TestStore_IteratePrefixOrdered(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Update(func(tx Tx) error {
				for _, k := range []string{"p/03", "p/01", "q/00", "p/02"} {
					if err := tx.Set([]byte(k), []byte(k)); err != nil {
						return err
					}
				}
				return nil
			}))

			var keys []string
			require.NoError(t, s.View(func(tx Tx) error {
				return tx.Iterate([]byte("p/"), func(key, value []byte) error {
					assert.Equal(t, key, value)
					keys = append(keys, string(key))
					return nil
				})
			}))
			assert.Equal(t, []string{"p/01", "p/02", "p/03"}, keys)
		})
	}
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	const workers = 16
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := []byte("counter")
			require.NoError(t, s.Update(func(tx Tx) error {
				return PutJSON(tx, key, record{})
			}))

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.Update(func(tx Tx) error {
						var r record
						if err := GetJSON(tx, key, &r); err != nil {
							return err
						}
						r.Count++
						return PutJSON(tx, key, r)
					}))
				}()
			}
			wg.Wait()

			var r record
			require.NoError(t, s.View(func(tx Tx) error { return GetJSON(tx, key, &r) }))
			assert.Equal(t, workers, r.Count)
		})
	}
}

func TestMemory_ViewIsReadOnly(t *testing.T) {
	m := NewMemory()
	err := m.View(func(tx Tx) error {
		return tx.Set([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.View(func(tx Tx) error { return nil }), ErrClosed)
}
