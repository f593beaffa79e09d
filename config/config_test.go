package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, "mp4-to-gif-queue", cfg.QueueName)
	assert.Equal(t, RecordStoreFile, cfg.RecordStore)
	assert.Equal(t, int64(10000000), cfg.MaxUploadBytes)
	assert.Equal(t, 40.0, cfg.MaxDuration)
	assert.Equal(t, 1024, cfg.MaxWidth)
	assert.Equal(t, 768, cfg.MaxHeight)
	assert.Equal(t, 400, cfg.GIFHeight)
	assert.Equal(t, 5, cfg.GIFFPS)
	assert.Zero(t, cfg.ConversionTimeout)
	assert.Equal(t, "http://localhost:3000/json/files", cfg.RecordStoreURL())
	assert.Equal(t, 10*time.Second, cfg.RecordStoreTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_PREFIX", "test:")
	t.Setenv("API_URL", "http://api:3000/")
	t.Setenv("RECORD_STORE", "HTTP")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CONVERSION_TIMEOUT", "90")
	t.Setenv("STALL_TIMEOUT", "2m")
	t.Setenv("RECORD_STORE_TIMEOUT", "3s")
	t.Setenv("S3_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.RedisAddr())
	assert.Equal(t, "test:mp4-to-gif-queue", cfg.QueueName)
	assert.Equal(t, RecordStoreHTTP, cfg.RecordStore)
	assert.Equal(t, "http://api:3000/json/files", cfg.RecordStoreURL())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.ConversionTimeout)
	assert.Equal(t, 2*time.Minute, cfg.StallTimeout)
	assert.Equal(t, 3*time.Second, cfg.RecordStoreTimeout)
	assert.Equal(t, "eu-west-1", cfg.S3Region)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GIF_FPS=8\n"), 0o644))
	// godotenv never overrides a variable that is already set
	t.Setenv("GIF_FPS", "")
	require.NoError(t, os.Unsetenv("GIF_FPS"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.GIFFPS)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("RECORD_STORE", "mongo")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("RECORD_STORE", "file")
	t.Setenv("OBJECT_STORE", "gcs")
	_, err = Load("")
	require.Error(t, err)
}
