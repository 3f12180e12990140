package mysql

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage/storagetest"
	"github.com/jmcleod/tagvault/storage/tenant"
)

// testHarness reads TAGVAULT_TEST_MYSQL, a JSON document of the form
// {"config": {...}, "credentials": {...}}.
func testHarness(t *testing.T) storagetest.Harness {
	t.Helper()
	raw := os.Getenv("TAGVAULT_TEST_MYSQL")
	if raw == "" {
		t.Skip("TAGVAULT_TEST_MYSQL not set; skipping MySQL tests")
	}
	var env struct {
		Config      json.RawMessage `json:"config"`
		Credentials json.RawMessage `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return storagetest.Harness{
		Lifecycle:   NewLifecycle(),
		Config:      env.Config,
		Credentials: env.Credentials,
	}
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, testHarness(t))
}

func TestStoresShareWalletScopedPools(t *testing.T) {
	h := testHarness(t)
	a, _ := storagetest.Open(t, h, nil)
	b, _ := storagetest.Open(t, h, nil)

	sa, sb := a.(*Store), b.(*Store)
	assert.NotEqual(t, sa.WalletID(), sb.WalletID())
	assert.Same(t, sa.write, sb.write)
}

func TestDSN(t *testing.T) {
	cfg := tenant.Config{ReadHost: "replica", WriteHost: "primary", Port: "3306", DBName: "wallets"}
	dsn := DSN(cfg.WriteHost, cfg, tenant.Credentials{User: "agent", Pass: "secret"})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "agent", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "primary:3306", parsed.Addr)
	assert.Equal(t, "wallets", parsed.DBName)
	assert.True(t, parsed.ClientFoundRows)
}

func TestSchemaStatements(t *testing.T) {
	stmts := statements()
	require.Len(t, stmts, 4)
	for _, s := range stmts {
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS")
	}
}
