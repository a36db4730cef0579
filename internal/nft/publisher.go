package nft

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher stores NFT assets and returns a public URL for each.
type Publisher interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// S3Publisher uploads metadata documents and snapshot images to a bucket.
type S3Publisher struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Publisher builds a publisher from the ambient AWS credential chain.
// baseURL, when set, overrides the default virtual-hosted URL form (useful
// behind a CDN).
func NewS3Publisher(ctx context.Context, bucket, baseURL string) (*S3Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Publisher{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

func (p *S3Publisher) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	if p.baseURL != "" {
		return fmt.Sprintf("%s/%s", p.baseURL, key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", p.bucket, key), nil
}
