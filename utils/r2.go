// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Client writes ledger archive objects to a Cloudflare R2 bucket through
// the S3 API.
type R2Client struct {
	client *s3.Client
	bucket string
}

// NewR2Client builds a client from the CLOUDFLARE_ACCOUNT_ID, R2_ACCESS_KEY_ID,
// R2_ACCESS_KEY_SECRET and R2_BUCKET_NAME environment variables. Returns
// (nil, nil) when no bucket is configured so the caller can skip archiving.
func NewR2Client() (*R2Client, error) {
	bucket := os.Getenv("R2_BUCKET_NAME")
	if bucket == "" {
		return nil, nil
	}
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	return &R2Client{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// UploadBytes writes body under key with the given content type.
func (r *R2Client) UploadBytes(ctx context.Context, key, contentType string, body []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}
