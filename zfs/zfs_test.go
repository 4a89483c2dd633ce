package zfs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnr/sysds/common"
	"github.com/dnr/sysds/sysds"
)

type fakeRunner struct {
	out   map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, desc string, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if err, ok := f.errs[cmd]; ok {
		return "", err
	}
	return f.out[cmd], nil
}

const getPrefix = "zfs get -H -p -o name,property,value mountpoint,readonly,snapdir,quota,used,available,acltype,mounted,encryption,keyformat,keystatus "

func TestListPools(t *testing.T) {
	r := require.New(t)
	fr := &fakeRunner{out: map[string]string{
		"zpool list -H -o name": "boot-pool\ntank\nvault\n",
		getPrefix + "boot-pool tank vault": strings.Join([]string{
			"boot-pool\tmounted\tno",
			"boot-pool\tencryption\toff",
			"tank\tmounted\tyes",
			"tank\tencryption\toff",
			"vault\tmounted\tyes",
			"vault\tencryption\taes-256-gcm",
			"vault\tkeyformat\tpassphrase",
			"vault\tkeystatus\tunavailable",
		}, "\n"),
	}}
	c := New(fr, zaptest.NewLogger(t))

	pools, err := c.ListPools(context.Background())
	r.NoError(err)
	r.Equal([]sysds.Pool{
		{Name: "boot-pool", IsBootPool: true},
		{Name: "tank", IsMounted: true},
		{Name: "vault", IsMounted: true, IsEncrypted: true, IsLocked: true},
	}, pools)

	boot, err := c.BootPoolName(context.Background())
	r.NoError(err)
	r.Equal("boot-pool", boot)
}

func TestQueryPartial(t *testing.T) {
	r := require.New(t)
	fr := &fakeRunner{errs: map[string]error{
		getPrefix + "tank/.system tank/.system/cores": &common.CommandError{
			ExitCode: 1,
			Stdout:   "tank/.system\tused\t12345\ntank/.system\treadonly\toff",
			Stderr:   "cannot open 'tank/.system/cores': dataset does not exist",
		},
	}}
	c := New(fr, zaptest.NewLogger(t))

	res, err := c.Query(context.Background(), "tank/.system", "tank/.system/cores")
	r.NoError(err)
	r.Len(res, 1)
	r.Equal(int64(12345), res[0].Bytes("used"))

	_, err = c.Get(context.Background(), "tank/.system/cores")
	r.True(common.IsNotFound(err))
}

func TestQueryFails(t *testing.T) {
	fr := &fakeRunner{errs: map[string]error{
		getPrefix + "tank": &common.CommandError{ExitCode: 1, Stderr: "permission denied"},
	}}
	_, err := New(fr, zaptest.NewLogger(t)).Query(context.Background(), "tank")
	require.Error(t, err)
	require.True(t, Error.Has(err))
}

func TestMutations(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	fr := &fakeRunner{}
	c := New(fr, zaptest.NewLogger(t))

	r.NoError(c.Create(ctx, "tank/.system/cores", map[string]string{"quota": "1G", "mountpoint": "legacy"}))
	r.NoError(c.Update(ctx, "tank/.system", map[string]string{"readonly": "off", "acltype": "off"}))
	r.NoError(c.Update(ctx, "tank/.system", nil))
	r.NoError(c.Delete(ctx, "tank/.system", sysds.DeleteOptions{Recursive: true}))
	r.NoError(c.Delete(ctx, "tank/.system/cores", sysds.DeleteOptions{Force: true, Recursive: true}))
	r.Equal([]string{
		"zfs create -o mountpoint=legacy -o quota=1G tank/.system/cores",
		"zfs set acltype=off readonly=off tank/.system",
		"zfs destroy -r tank/.system",
		"zfs destroy -f -r tank/.system/cores",
	}, fr.calls)
}
