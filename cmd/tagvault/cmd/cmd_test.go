package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
)

// run executes the CLI with args and returns what it printed on stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	profilePath, storeType, configJSON, credentialsJSON, verbose = "", "", "", "", false
	createMetadata = ""
	migrateToType, migrateToID, migrateToConfig, migrateToCredentials = "", "", "", ""
	recordValue, recordKey, recordTags, recordNames = "", "", "", "[]"
	withType, withTags, withoutValue = false, false, false
	searchQuery, searchCount, searchNoItems = "{}", false, false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func sqliteFlags(t *testing.T) []string {
	t.Helper()
	return []string{"--type", "sqlite", "--config", fmt.Sprintf(`{"path":%q}`, t.TempDir())}
}

func decodeLines(t *testing.T, out string) []recordJSON {
	t.Helper()
	var records []recordJSON
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var r recordJSON
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		records = append(records, r)
	}
	return records
}

func TestTypes(t *testing.T) {
	out, err := run(t, "types")
	require.NoError(t, err)
	assert.Equal(t, "bbolt\nmemory\nmysql\npostgres\nsqlite\n", out)
}

func TestItemCommands(t *testing.T) {
	base := sqliteFlags(t)
	cli := func(args ...string) (string, error) {
		return run(t, append(args, base...)...)
	}

	_, err := cli("create", "w1", "--metadata", "bWV0YQ==")
	require.NoError(t, err)
	_, err = cli("add", "w1", "cred", "c1", "--value", "aGVsbG8=", "--key", "a2V5", "--tags", `{"name":"alice","~age":"30"}`)
	require.NoError(t, err)
	_, err = cli("add", "w1", "cred", "c1", "--value", "aGVsbG8=")
	assert.ErrorIs(t, err, storage.ErrItemAlreadyExists)

	out, err := cli("get", "w1", "cred", "c1", "--with-type", "--with-tags")
	require.NoError(t, err)
	records := decodeLines(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "cred", records[0].Type)
	require.NotNil(t, records[0].Value)
	assert.Equal(t, "aGVsbG8=", *records[0].Value)
	assert.Equal(t, "a2V5", *records[0].Key)
	tags, err := storage.DecodeTags(records[0].Tags)
	require.NoError(t, err)
	assert.ElementsMatch(t, []storage.Tag{
		storage.EncryptedTag([]byte("name"), []byte("alice")),
		storage.PlainTag([]byte("age"), "30"),
	}, tags)

	out, err = cli("search", "w1", "cred", "--query", `{"~age":{"$gte":"18"}}`, "--count", "--without-value")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"total":1}`, lines[0])
	assert.JSONEq(t, `{"id":"c1"}`, lines[1])

	out, err = cli("search", "w1", "cred", "-q", `{"name":"bob"}`, "--count-only")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":0}`, out)

	_, err = cli("tags", "update", "w1", "cred", "c1", "--tags", `{"~age":"31"}`)
	require.NoError(t, err)
	_, err = cli("tags", "update", "w1", "cred", "c1", "--tags", `{"~missing":"1"}`)
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
	_, err = cli("tags", "delete", "w1", "cred", "c1", "--names", `["name"]`)
	require.NoError(t, err)
	_, err = cli("tags", "add", "w1", "cred", "c1", "--tags", `{"~age":"1"}`)
	assert.ErrorIs(t, err, storage.ErrItemAlreadyExists)

	out, err = cli("search", "w1", "cred", "--query", `{"~age":"31"}`, "--with-tags")
	require.NoError(t, err)
	records = decodeLines(t, out)
	require.Len(t, records, 1)
	tags, err = storage.DecodeTags(records[0].Tags)
	require.NoError(t, err)
	assert.Equal(t, []storage.Tag{storage.PlainTag([]byte("age"), "31")}, tags)

	_, err = cli("update", "w1", "cred", "c1", "--value", "d29ybGQ=")
	require.NoError(t, err)
	out, err = cli("export", "w1")
	require.NoError(t, err)
	records = decodeLines(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "d29ybGQ=", *records[0].Value)

	out, err = cli("metadata", "get", "w1")
	require.NoError(t, err)
	assert.Equal(t, "bWV0YQ==\n", out)
	_, err = cli("metadata", "set", "w1", "bmV3")
	require.NoError(t, err)
	out, err = cli("metadata", "get", "w1")
	require.NoError(t, err)
	assert.Equal(t, "bmV3\n", out)

	_, err = cli("remove", "w1", "cred", "c1")
	require.NoError(t, err)
	_, err = cli("get", "w1", "cred", "c1")
	assert.ErrorIs(t, err, storage.ErrItemNotFound)

	_, err = cli("delete", "w1")
	require.NoError(t, err)
	_, err = cli("export", "w1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInvalidInput(t *testing.T) {
	base := sqliteFlags(t)
	_, err := run(t, append([]string{"create", "w1"}, base...)...)
	require.NoError(t, err)

	_, err = run(t, append([]string{"add", "w1", "t", "i", "--value", "not base64!"}, base...)...)
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
	_, err = run(t, append([]string{"add", "w1", "t", "i", "--tags", `["a"]`}, base...)...)
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
	_, err = run(t, append([]string{"search", "w1", "t", "--query", `{"$nope":1}`}, base...)...)
	assert.Error(t, err)

	_, err = run(t, "types", "--type", "nosuch")
	require.NoError(t, err, "the type is only resolved when a storage is used")
	_, err = run(t, "create", "w2", "--type", "nosuch")
	assert.ErrorIs(t, err, storage.ErrUnknownType)
	_, err = run(t, "create", "w2", "--config", "{not json")
	assert.Error(t, err)
}

func TestMigrateThroughPlugin(t *testing.T) {
	base := sqliteFlags(t)
	_, err := run(t, append([]string{"create", "src", "--metadata", "bWV0YQ=="}, base...)...)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err = run(t, append([]string{"add", "src", "cred", id, "--value", "dg==", "--tags", `{"~n":"` + id + `"}`}, base...)...)
		require.NoError(t, err)
	}

	bboltConfig := fmt.Sprintf(`{"path":%q}`, t.TempDir())
	out, err := run(t, append([]string{"migrate", "src", "--to-type", "bbolt", "--to-id", "dst", "--to-config", bboltConfig}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "copied 3 records to bbolt dst\n", out)

	dst := []string{"--type", "bbolt", "--config", bboltConfig}
	out, err = run(t, append([]string{"export", "dst"}, dst...)...)
	require.NoError(t, err)
	records := decodeLines(t, out)
	assert.Len(t, records, 3)

	out, err = run(t, append([]string{"metadata", "get", "dst"}, dst...)...)
	require.NoError(t, err)
	assert.Equal(t, "bWV0YQ==\n", out)

	_, err = run(t, append([]string{"migrate", "src", "--to-type", "bbolt", "--to-id", "dst", "--to-config", bboltConfig}, base...)...)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestProfile(t *testing.T) {
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "tagvault.prom")
	profile := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(fmt.Sprintf(`type: sqlite
config:
  path: %s
metrics_file: %s
`, filepath.Join(dir, "wallets"), metricsFile)), 0o600))

	_, err := run(t, "create", "w1", "--profile", profile)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "wallets", "w1", "sqlite.db"))
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tagvault_storage_operations_total{backend="sqlite",op="create_storage",result="ok"} 1`)
}

func TestResolve(t *testing.T) {
	p := Profile{
		Type:        "postgres",
		Config:      map[string]any{"write_host": "primary", "port": 5432},
		Credentials: map[string]any{"user": "agent"},
	}
	s, err := resolve(p, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", s.Type)
	assert.JSONEq(t, `{"write_host":"primary","port":5432}`, string(s.Config))
	assert.JSONEq(t, `{"user":"agent"}`, string(s.Credentials))

	file := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"user":"other","pass":"x"}`), 0o600))
	s, err = resolve(p, "mysql", `{"db_name":"w"}`, "@"+file)
	require.NoError(t, err)
	assert.Equal(t, "mysql", s.Type)
	assert.JSONEq(t, `{"db_name":"w"}`, string(s.Config))
	assert.JSONEq(t, `{"user":"other","pass":"x"}`, string(s.Credentials))

	s, err = resolve(Profile{}, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Type)
	assert.Nil(t, s.Config)

	_, err = resolve(Profile{}, "", "{", "")
	assert.Error(t, err)
	_, err = resolve(Profile{}, "", "@"+filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}
