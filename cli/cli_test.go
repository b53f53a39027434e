package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func memoryEnv(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", mr.Addr())
	return mr
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["voucher"])
}

func TestUnknownDriverFailsBeforeRunning(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := execute(t, "migrate")
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestMigrateMemory(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated memory store")
}

func TestVoucherCreateSeedsStock(t *testing.T) {
	mr := memoryEnv(t)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	out, err := execute(t, "voucher", "create", "--title", "coupon", "--stock", "25", "--end", end, "--warm", "1m")
	require.NoError(t, err)

	var rsp map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &rsp))
	require.NotZero(t, rsp["id"])

	stock, err := mr.Get("seckill:stock:1")
	require.NoError(t, err)
	assert.Equal(t, "25", stock)
	assert.True(t, mr.Exists("cache:voucher:hot:1"))
}

func TestVoucherCreateValidation(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "voucher", "create", "--title", "coupon", "--end", "tomorrow")
	assert.ErrorContains(t, err, "invalid --end")

	_, err = execute(t, "voucher", "create", "--title", "coupon")
	assert.Error(t, err)

	_, err = execute(t, "voucher", "get", "abc")
	assert.ErrorContains(t, err, "invalid voucher id")
}
