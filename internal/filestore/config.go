package filestore

import (
	"time"

	"github.com/koustreak/pgextract/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to connect to a file storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO. Empty disables export.
	Endpoint string `yaml:"endpoint"`

	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string `yaml:"region"`

	// Bucket receives the snapshots.
	Bucket string `yaml:"bucket"`

	// CreateBucket makes the bucket on first use if it does not exist.
	CreateBucket bool `yaml:"create_bucket"`

	// Prefix is prepended to every snapshot key.
	Prefix string `yaml:"prefix"`

	// PresignTTL is the lifetime of presigned download URLs.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:   ProviderMinIO,
		Endpoint:   endpoint,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		UseSSL:     false,
		Bucket:     "pgextract",
		Prefix:     "snapshots",
		PresignTTL: 15 * time.Minute,
	}
}

// Enabled reports whether an export target is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.Endpoint != ""
}

// Validate checks an enabled config for missing settings.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Provider != "" && c.Provider != ProviderMinIO {
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported export provider %q", c.Provider)
	}
	if c.Bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "export bucket is required")
	}
	if c.PresignTTL < 0 {
		return errs.New(errs.ErrKindInvalidInput, "export presign_ttl must not be negative")
	}
	return nil
}
