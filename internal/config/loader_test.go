package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", name), []byte(content), 0o644))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ZN_TEST_HOST", "db.internal")

	assert.Equal(t, "host: db.internal", expandEnv("host: ${ZN_TEST_HOST}"))
	assert.Equal(t, "host: db.internal", expandEnv("host: ${ZN_TEST_HOST:localhost}"))
	assert.Equal(t, "port: 5432", expandEnv("port: ${ZN_TEST_MISSING:5432}"))
	assert.Equal(t, "key: ", expandEnv("key: ${ZN_TEST_MISSING:}"))
	assert.Equal(t, "key: ${ZN_TEST_MISSING}", expandEnv("key: ${ZN_TEST_MISSING}"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
generation:
  rounds: 5
security:
  jwt:
    secret: ${ZN_TEST_JWT_SECRET:fallback}
`)
	writeConfig(t, dir, "config.staging.yaml", `
generation:
  rounds: 7
`)
	t.Chdir(dir)

	t.Setenv("APP_ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Generation.Rounds)
	assert.Equal(t, "fallback", cfg.Security.JWT.Secret)

	// 未出现在文件中的键走默认值
	assert.Equal(t, 3*time.Minute, cfg.Generation.ExtractionTimeout)
	assert.Equal(t, 15*time.Second, cfg.Generation.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ModelConfigTTL)
	assert.Equal(t, time.Duration(0), cfg.Server.HTTP.WriteTimeout)
	assert.Equal(t, "<<SETTING_COMPLETE>>", cfg.Generation.EndMarker)
	assert.True(t, cfg.Messaging.RedisStream.Enabled)

	t.Setenv("APP_ENV", "staging")
	t.Setenv("ZN_TEST_JWT_SECRET", "from-env")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Generation.Rounds)
	assert.Equal(t, "from-env", cfg.Security.JWT.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Generation: GenerationConfig{
				Rounds:               3,
				EndMarker:            "<<END>>",
				MaxNameLength:        64,
				MaxDescriptionLength: 1000,
				SessionTTL:           time.Hour,
			},
			Security: SecurityConfig{JWT: JWTConfig{Enabled: true, Secret: "s"}},
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Security.JWT.Secret = ""
	assert.ErrorContains(t, cfg.Validate(), "security.jwt.secret")

	cfg = valid()
	cfg.Generation.Rounds = 0
	cfg.Security.RateLimit = RateLimitConfig{Enabled: true}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "generation.rounds")
	assert.ErrorContains(t, err, "session_starts_per_minute")

	cfg = valid()
	cfg.LLM.SharedPool = map[string]PoolModelConfig{"p": {Enabled: true, InputPricePer1K: -1}}
	assert.ErrorContains(t, cfg.Validate(), "llm.shared_pool.p")
}
