// Package config loads pgextract settings from a YAML file and the
// environment. Command-line flags are applied by the caller afterwards.
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/extract"
	"github.com/koustreak/pgextract/internal/filestore"
	"github.com/koustreak/pgextract/internal/logger"
	"github.com/koustreak/pgextract/internal/schema"
	"github.com/koustreak/pgextract/internal/server"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "PGEXTRACT_"

// Config is the complete pgextract configuration.
type Config struct {
	Database database.Config  `yaml:"database"`
	Log      logger.Config    `yaml:"log"`
	Extract  extract.Options  `yaml:"extract"`
	Export   filestore.Config `yaml:"export"`
	Server   server.Config    `yaml:"server"`
}

// Default returns the built-in defaults. Export is disabled until an
// endpoint is set.
func Default() *Config {
	export := filestore.DefaultConfig("", "", "")
	return &Config{
		Database: *database.DefaultConfig(""),
		Log:      *logger.DefaultConfig(),
		Extract:  extract.Options{Concurrency: extract.DefaultConcurrency},
		Export:   *export,
		Server:   *server.DefaultConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Wrap(errs.ErrKindNotFound, "config file "+path+" not found", err)
			}
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config file "+path, err)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindInvalidInput, "parse config", err)
	}
	return nil
}

// ApplyEnv overlays PGEXTRACT_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("DSN", &c.Database.DSN)
	env.str("APPLICATION_NAME", &c.Database.ApplicationName)
	env.duration("QUERY_TIMEOUT", &c.Database.QueryTimeout)

	env.str("LOG_LEVEL", &c.Log.Level)
	env.str("LOG_FORMAT", &c.Log.Format)

	env.list("SCHEMAS", &c.Extract.Schemas)
	env.kinds("KINDS", &c.Extract.Kinds)
	env.boolean("RESOLVE_VIEWS", &c.Extract.ResolveViews)
	env.integer("CONCURRENCY", &c.Extract.Concurrency)

	env.str("MINIO_ENDPOINT", &c.Export.Endpoint)
	env.str("MINIO_ACCESS_KEY", &c.Export.AccessKey)
	env.str("MINIO_SECRET_KEY", &c.Export.SecretKey)
	env.str("MINIO_BUCKET", &c.Export.Bucket)
	env.str("MINIO_PREFIX", &c.Export.Prefix)
	env.boolean("MINIO_USE_SSL", &c.Export.UseSSL)

	env.str("SERVER_ADDR", &c.Server.Addr)

	return env.err
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.Extract.Concurrency < 0 {
		return errs.New(errs.ErrKindInvalidInput, "extract concurrency must not be negative")
	}
	for _, k := range c.Extract.Kinds {
		if !slices.Contains(schema.AllKinds, k) {
			return errs.Newf(errs.ErrKindInvalidInput, "unknown object kind %q", k)
		}
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}

// envReader collects the first parse error so ApplyEnv reads linearly.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + name)
	return strings.TrimSpace(v), ok
}

func (e *envReader) fail(name, v string, err error) {
	e.err = errs.Wrap(errs.ErrKindInvalidInput, "invalid "+EnvPrefix+name+"="+strconv.Quote(v), err)
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) kinds(name string, dst *[]schema.Kind) {
	var names []string
	e.list(name, &names)
	if names == nil {
		return
	}
	out := make([]schema.Kind, len(names))
	for i, n := range names {
		out[i] = schema.Kind(n)
	}
	*dst = out
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
