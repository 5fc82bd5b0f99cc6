package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/pkg/routing"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, "jper-router", cfg.AppName)
	assert.Equal(t, 3010, cfg.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"GET", "POST", "DELETE"}, cfg.AllowMethods)
	assert.Equal(t, 5*time.Minute, cfg.DatabaseConnMaxLifetime)
	assert.Equal(t, "router:dlq", cfg.DeadLetterQueueStream)
	assert.True(t, cfg.KafkaConsumerEnabled)
	assert.False(t, cfg.GraphDBEnabled)
	assert.Empty(t, cfg.DatabasePassword)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SCHEDULER_INTERVAL", "5s")
	t.Setenv("GRAPH_DB_ENABLED", "true")
	t.Setenv("DB_NAME", "router_test")

	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.SchedulerInterval)
	assert.True(t, cfg.GraphDBEnabled)
	assert.Equal(t, "router_test", cfg.DatabaseName)
}

func TestLoadFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_NAME=router_dotenv\nREDIS_DB=4\n"), 0o600))
	t.Chdir(dir)
	// registers the restore before .env writes into the process environment
	t.Setenv("DB_NAME", "")
	require.NoError(t, os.Unsetenv("DB_NAME"))
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "router_dotenv", cfg.DatabaseName)
	assert.Equal(t, 2, cfg.RedisDB, "the environment wins over .env")
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "PORT", value: "eighty"},
		{key: "REDIS_LOCK_TTL", value: "two minutes"},
		{key: "PRETTY_LOGS", value: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.value)
		})
	}
}

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "routing.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRoutingPolicyMissingFile(t *testing.T) {
	holder, err := NewRoutingPolicyHolder(filepath.Join(t.TempDir(), "routing.yml"), getTestLogger())
	require.NoError(t, err)
	assert.Equal(t, routing.DefaultPolicy(), holder.Policy())
}

func TestRoutingPolicyFile(t *testing.T) {
	path := writePolicy(t, t.TempDir(), `
matching:
  postcode_matching: false
gold_allow_lists:
  "*":
    - cc-by
repackage_formats:
  - https://pubrouter.jisc.ac.uk/PDFUnpacked
max_stalled_attempts: 3
call_timeout: 5s
`)

	holder, err := NewRoutingPolicyHolder(path, getTestLogger())
	require.NoError(t, err)

	policy := holder.Policy()
	assert.False(t, policy.Matching.PostcodeMatching)
	assert.Equal(t, []string{"cc-by"}, policy.GoldAllowList("provider-1"))
	assert.Equal(t, []string{"https://pubrouter.jisc.ac.uk/PDFUnpacked"}, policy.RepackageFormats)
	assert.Equal(t, 3, policy.MaxStalledAttempts)
	assert.Equal(t, 5*time.Second, policy.CallTimeout)
	// omitted keys keep their defaults
	assert.True(t, policy.KeepFailed)
	assert.Equal(t, routing.DefaultPolicy().MaxConcurrency, policy.MaxConcurrency)
}

func TestRoutingPolicyRejectsInvalidFile(t *testing.T) {
	path := writePolicy(t, t.TempDir(), "max_stalled_attempts: 0\n")

	_, err := NewRoutingPolicyHolder(path, getTestLogger())
	require.Error(t, err)
}

func TestRoutingPolicyReload(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "max_stalled_attempts: 2\n")

	holder, err := newRoutingPolicyHolder(path, getTestLogger(), false)
	require.NoError(t, err)
	require.Equal(t, 2, holder.Policy().MaxStalledAttempts)

	writePolicy(t, dir, "max_stalled_attempts: 7\nkeep_failed: false\n")
	assert.True(t, holder.Reload("test"))
	assert.Equal(t, 7, holder.Policy().MaxStalledAttempts)
	assert.False(t, holder.Policy().KeepFailed)

	// an invalid edit keeps the last good policy
	writePolicy(t, dir, "max_stalled_attempts: -1\n")
	assert.False(t, holder.Reload("test"))
	assert.Equal(t, 7, holder.Policy().MaxStalledAttempts)
}

func TestValidatePolicy(t *testing.T) {
	valid := routing.DefaultPolicy()
	assert.NoError(t, ValidatePolicy(valid))

	blankGold := routing.DefaultPolicy()
	blankGold.GoldAllowLists = map[string][]string{"*": {" "}}
	assert.Error(t, ValidatePolicy(blankGold))

	blankFormat := routing.DefaultPolicy()
	blankFormat.RepackageFormats = []string{""}
	assert.Error(t, ValidatePolicy(blankFormat))

	negativeTimeout := routing.DefaultPolicy()
	negativeTimeout.CallTimeout = -time.Second
	assert.Error(t, ValidatePolicy(negativeTimeout))
}

func TestCheckPolicyFile(t *testing.T) {
	dir := t.TempDir()

	policy, err := CheckPolicyFile(writePolicy(t, dir, "max_stalled_attempts: 4\ncall_timeout: 10s\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, policy.MaxStalledAttempts)
	assert.Equal(t, 10*time.Second, policy.CallTimeout)
	assert.True(t, policy.Matching.PostcodeMatching)

	_, err = CheckPolicyFile(writePolicy(t, dir, "max_stalled_attempt: 4\n"))
	assert.ErrorContains(t, err, "max_stalled_attempt")

	_, err = CheckPolicyFile(writePolicy(t, dir, "max_concurrency: -2\n"))
	assert.ErrorContains(t, err, "invalid routing policy")

	_, err = CheckPolicyFile(filepath.Join(dir, "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckPolicyFileAcceptsShippedPolicy(t *testing.T) {
	policy, err := CheckPolicyFile(filepath.Join("..", "routing.yml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://creativecommons.org/licenses/by/4.0/", "cc-by"}, policy.GoldAllowList("any-provider"))
	assert.Len(t, policy.RepackageFormats, 2)
}

func TestDatabaseConfig(t *testing.T) {
	cfg, err := load()
	require.NoError(t, err)

	db := cfg.Database()
	assert.Equal(t, cfg.DatabaseHost, db.Host)
	assert.Equal(t, cfg.DatabaseName, db.Name)
	assert.Equal(t, cfg.DatabaseConnMaxLifetime, db.ConnMaxLifetime)
	assert.Equal(t, "db/pg", cfg.Migrations().MigrationFolderPath)
}
