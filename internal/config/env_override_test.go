package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("upload token is trimmed", func(t *testing.T) {
		t.Setenv("GAMEGATE_UPLOAD_TOKEN", "  party-secret \n")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "party-secret", cfg.Server.UploadToken)
	})

	t.Run("blank token keeps configured value", func(t *testing.T) {
		t.Setenv("GAMEGATE_UPLOAD_TOKEN", "   ")

		cfg := DefaultConfig()
		cfg.Server.UploadToken = "from-file"
		cfg.applyEnvOverrides()

		assert.Equal(t, "from-file", cfg.Server.UploadToken)
	})

	t.Run("browser and sdk paths", func(t *testing.T) {
		t.Setenv("GAMEGATE_BROWSER_BIN", "/opt/chromium/chrome")
		t.Setenv("GAMEGATE_SDK_PATH", "assets/sdk.js")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/opt/chromium/chrome", cfg.Browser.Bin)
		assert.Equal(t, "assets/sdk.js", cfg.Verify.SDKPath)
	})

	t.Run("minio credentials", func(t *testing.T) {
		t.Setenv("GAMEGATE_MINIO_ENDPOINT", "minio:9000")
		t.Setenv("GAMEGATE_MINIO_ACCESS_KEY", "ak")
		t.Setenv("GAMEGATE_MINIO_SECRET_KEY", "sk")
		t.Setenv("GAMEGATE_MINIO_BUCKET", "arcade")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, MinioConfig{
			Endpoint:  "minio:9000",
			AccessKey: "ak",
			SecretKey: "sk",
			Bucket:    "arcade",
			Region:    "us-east-1",
		}, cfg.Storage.Minio)
	})
}
