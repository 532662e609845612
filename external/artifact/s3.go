package artifact

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/calldeck/callscribe/internal/artifact"
)

// S3ObjectStore writes audio artifacts to a single bucket. Keys already
// carry the configured prefixes, so the store is prefix-agnostic.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
}

func NewS3ObjectStore(client *s3.Client, bucket string) artifact.ObjectStore {
	return &S3ObjectStore{client: client, bucket: bucket}
}

func (s *S3ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}
