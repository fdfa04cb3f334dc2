// Package config describes where a storehouse backend lives and builds it.
//
// A Config can be assembled from a type name plus string arguments (the form
// used by command-line tools), or decoded from a JSON document:
//
//	{"type": "s3", "bucket": "frames", "region": "us-east-1", "endpoint": "s3.amazonaws.com"}
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/justapithecus/storehouse/storehouse"
	"github.com/justapithecus/storehouse/storehouse/s3"
)

// Backend types understood by NewStore.
const (
	TypePosix  = "posix"
	TypeS3     = "s3"
	TypeGCS    = "gcs"
	TypeMemory = "memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config selects and parameterizes a storage backend.
type Config struct {
	Type string `json:"type"`

	// Bucket is required for s3 and gcs.
	Bucket string `json:"bucket,omitempty"`
	// Region is required for s3. gcs always uses "US".
	Region string `json:"region,omitempty"`
	// Endpoint is required for s3. A bare host is reached over https.
	Endpoint string `json:"endpoint,omitempty"`

	// Root is the directory a posix store resolves names against.
	// Defaults to the working directory.
	Root string `json:"root,omitempty"`

	// Prefix is prepended to every object key of an s3 or gcs store.
	Prefix       string `json:"prefix,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the default AWS credential chain is used.
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// FromArgs builds a Config from a backend type and its arguments.
//
// Required keys: "bucket" for gcs; "bucket", "region" and "endpoint" for s3.
// posix accepts an optional "root". Unknown keys are ignored.
func FromArgs(typ string, args map[string]string) (Config, error) {
	logger := log.WithFields(log.Fields{
		"package":  "config",
		"function": "FromArgs",
	})

	required := func(keys ...string) error {
		for _, key := range keys {
			if _, ok := args[key]; !ok {
				logger.Warnf("storage config %s is missing required argument %s", typ, key)
				return fmt.Errorf("config: %s is missing required argument %q: %w", typ, key, storehouse.ErrInvalidArgument)
			}
		}
		return nil
	}

	cfg := Config{
		Type:            typ,
		Prefix:          args["prefix"],
		AccessKeyID:     args["access_key_id"],
		SecretAccessKey: args["secret_access_key"],
	}

	switch typ {
	case TypePosix:
		cfg.Root = args["root"]
	case TypeMemory:
	case TypeGCS:
		if err := required("bucket"); err != nil {
			return Config{}, err
		}
		cfg.Bucket = args["bucket"]
	case TypeS3:
		if err := required("bucket", "region", "endpoint"); err != nil {
			return Config{}, err
		}
		cfg.Bucket = args["bucket"]
		cfg.Region = args["region"]
		cfg.Endpoint = args["endpoint"]
		cfg.UsePathStyle = args["use_path_style"] == "true"
	default:
		logger.Warnf("not a valid storage config type: %q", typ)
		return Config{}, fmt.Errorf("config: unknown storage type %q: %w", typ, storehouse.ErrInvalidArgument)
	}

	return cfg, nil
}

// Load decodes a JSON Config from r and validates it.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile is Load on the named file.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate checks that the fields required by the backend type are set.
func (c Config) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("config: %s requires %s: %w", c.Type, field, storehouse.ErrInvalidArgument)
	}

	switch c.Type {
	case TypePosix, TypeMemory:
		return nil
	case TypeGCS:
		if c.Bucket == "" {
			return missing("bucket")
		}
		return nil
	case TypeS3:
		switch {
		case c.Bucket == "":
			return missing("bucket")
		case c.Region == "":
			return missing("region")
		case c.Endpoint == "":
			return missing("endpoint")
		}
		return nil
	default:
		return fmt.Errorf("config: unknown storage type %q: %w", c.Type, storehouse.ErrInvalidArgument)
	}
}

// ClientConfig returns the S3 client settings for an s3 or gcs Config.
func (c Config) ClientConfig() s3.ClientConfig {
	if c.Type == TypeGCS {
		return s3.GCSClientConfig(c.AccessKeyID, c.SecretAccessKey)
	}
	return s3.ClientConfig{
		Region:       c.Region,
		Endpoint:     endpointURL(c.Endpoint),
		UsePathStyle: c.UsePathStyle,
		Credentials:  s3.StaticCredentials(c.AccessKeyID, c.SecretAccessKey),
	}
}

// NewStore builds the Store described by cfg.
func NewStore(ctx context.Context, cfg Config) (storehouse.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"package":  "config",
		"function": "NewStore",
		"type":     cfg.Type,
		"bucket":   cfg.Bucket,
	}).Debug("building store")

	switch cfg.Type {
	case TypeMemory:
		return storehouse.NewMemory(), nil
	case TypePosix:
		root := cfg.Root
		if root == "" {
			root = "."
		}
		store, err := storehouse.NewFS(root)
		if err != nil {
			return nil, fmt.Errorf("config: posix root: %w", err)
		}
		return store, nil
	default:
		client, err := s3.NewClient(ctx, cfg.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("config: s3 client: %w", err)
		}
		store, err := s3.New(client, s3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// endpointURL adds an https scheme to bare hosts such as "s3.amazonaws.com".
func endpointURL(endpoint string) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
