// Package s3util provides a factory for creating AWS S3-compatible clients
// for the endpoints backing cloud pools (AWS S3, MinIO, Cloudflare R2).
package s3util

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gftdcojp/storage-tiers/internal/config"
)

// Client wraps the AWS S3 client for one cloud pool.
type Client struct {
	S3     *s3.Client
	Pool   string
	Bucket string
}

// NewClient creates a new S3-compatible client from a cloud pool config.
func NewClient(ctx context.Context, pool string, cfg config.CloudPoolConfig) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for pool %s: %w", pool, err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Client{
		S3:     client,
		Pool:   pool,
		Bucket: cfg.Bucket,
	}, nil
}

// NewClients creates one client per cloud pool declared in systems.
func NewClients(ctx context.Context, systems []config.SystemConfig) ([]*Client, error) {
	var clients []*Client
	for _, sys := range systems {
		for _, pool := range sys.Pools {
			if pool.Cloud == nil {
				continue
			}
			c, err := NewClient(ctx, sys.ID+"/"+pool.Name, *pool.Cloud)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		}
	}
	return clients, nil
}

// Ping checks connectivity by performing a HeadBucket operation.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &c.Bucket,
	})
	return err
}
