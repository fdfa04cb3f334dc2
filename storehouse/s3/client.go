package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// GCSEndpoint is the S3 interoperability endpoint of Google Cloud Storage.
const GCSEndpoint = "https://storage.googleapis.com"

// ClientConfig holds configuration for creating an S3 client.
type ClientConfig struct {
	// Region is the AWS region (required).
	Region string

	// Endpoint is an optional custom endpoint URL.
	// Used for S3-compatible services (MinIO, LocalStack, GCS).
	// Example: "http://localhost:4566" for LocalStack.
	Endpoint string

	// UsePathStyle enables path-style addressing instead of virtual-hosted style.
	// Required for some S3-compatible services (e.g., LocalStack, MinIO with default config).
	UsePathStyle bool

	// Credentials are the credentials to use.
	// If nil, uses the default credential chain.
	Credentials aws.CredentialsProvider
}

// NewClient creates a new S3 client with the given configuration.
//
// For AWS S3:
//
//	client, err := s3.NewClient(ctx, s3.ClientConfig{
//	    Region: "us-east-1",
//	})
//
// For MinIO:
//
//	client, err := s3.NewClient(ctx, s3.ClientConfig{
//	    Region:       "us-east-1",
//	    Endpoint:     "http://localhost:9000",
//	    UsePathStyle: true,
//	    Credentials:  credentials.NewStaticCredentialsProvider("minioadmin", "minioadmin", ""),
//	})
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.Credentials != nil {
		opts = append(opts, config.WithCredentialsProvider(cfg.Credentials))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Opts := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// StaticCredentials returns a provider for a fixed key pair, or nil if the
// access key is empty so the default chain is used instead.
func StaticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	if accessKeyID == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
}

// GCSClientConfig returns a configuration that reaches Google Cloud Storage
// through its S3 interoperability endpoint using HMAC keys.
func GCSClientConfig(accessKeyID, secretAccessKey string) ClientConfig {
	return ClientConfig{
		Region:       "US",
		Endpoint:     GCSEndpoint,
		UsePathStyle: true,
		Credentials:  StaticCredentials(accessKeyID, secretAccessKey),
	}
}
