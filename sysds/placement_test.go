package sysds

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResolve(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	w := newWorld()
	res := NewResolver(fakeInventory{w}, zaptest.NewLogger(t))

	pool, err := res.Resolve(ctx, "", nil)
	r.NoError(err)
	r.Equal("", pool, "only the boot pool")

	w.addPool("enc", "100")
	w.addPool("locked", "100")
	w.addPool("tank", "100")
	w.addPool("zeta", "100")
	w.encrypted["enc"] = true
	w.locked["locked"] = true

	pool, err = res.Resolve(ctx, "", nil)
	r.NoError(err)
	r.Equal("tank", pool)

	pool, err = res.Resolve(ctx, "tank", nil)
	r.NoError(err)
	r.Equal("zeta", pool)

	pool, err = res.Resolve(ctx, "", func(p string) error {
		if p == "tank" {
			return errors.New("too small")
		}
		return nil
	})
	r.NoError(err)
	r.Equal("zeta", pool)

	pool, err = res.Resolve(ctx, "zeta", func(p string) error {
		if p == "tank" {
			return errors.New("too small")
		}
		return nil
	})
	r.NoError(err)
	r.Equal("", pool)
}

func TestResolveInventoryFlags(t *testing.T) {
	w := newWorld()
	w.pools = append(w.pools,
		Pool{Name: "a", IsEncrypted: true},
		Pool{Name: "b", IsLocked: true},
		Pool{Name: "c"},
	)
	pool, err := NewResolver(fakeInventory{w}, zaptest.NewLogger(t)).Resolve(context.Background(), "", nil)
	require.NoError(t, err)
	require.Equal(t, "c", pool)
}
