package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/loganmhb/cliodb/datalog"
)

// S3Store implements Store on an S3 bucket. Every key becomes an object
// under an optional prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Options configures an S3Store
type S3Options struct {
	Bucket string
	Prefix string
	// Endpoint overrides the service endpoint, for S3-compatible servers
	Endpoint string
	Region   string
}

// NewS3Store creates a store using the default AWS credential chain
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, datalog.StorageError("load aws config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

// Get downloads the object at key
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNotFound
		}
		return nil, datalog.StorageError(fmt.Sprintf("get %s", key), err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, datalog.StorageError(fmt.Sprintf("read %s", key), err)
	}
	return value, nil
}

// Put uploads value as the object at key
func (s *S3Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return datalog.StorageError(fmt.Sprintf("put %s", key), err)
	}
	return nil
}

// Scan lists objects under prefix page by page, fetching each as it is reached
func (s *S3Store) Scan(ctx context.Context, prefix, start string) (Iterator, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	}
	if start > prefix {
		// StartAfter is exclusive; back up one byte so start itself is included.
		input.StartAfter = aws.String(s.prefix + keyBefore(start))
	}
	return &s3Iterator{
		ctx:       ctx,
		store:     s,
		paginator: s3.NewListObjectsV2Paginator(s.client, input),
	}, nil
}

// Close is a no-op; the HTTP client needs no teardown
func (s *S3Store) Close() error {
	return nil
}

type s3Iterator struct {
	ctx       context.Context
	store     *S3Store
	paginator *s3.ListObjectsV2Paginator
	page      []string
	key       string
	value     []byte
	err       error
}

func (it *s3Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.page) == 0 {
		if !it.paginator.HasMorePages() {
			return false
		}
		out, err := it.paginator.NextPage(it.ctx)
		if err != nil {
			it.err = datalog.StorageError("list objects", err)
			return false
		}
		for _, obj := range out.Contents {
			it.page = append(it.page, strings.TrimPrefix(aws.ToString(obj.Key), it.store.prefix))
		}
	}

	it.key, it.page = it.page[0], it.page[1:]
	it.value, it.err = it.store.Get(it.ctx, it.key)
	return it.err == nil
}

func (it *s3Iterator) Key() string   { return it.key }
func (it *s3Iterator) Value() []byte { return it.value }
func (it *s3Iterator) Err() error    { return it.err }
func (it *s3Iterator) Close() error  { return nil }

// keyBefore returns a key that sorts immediately before k among keys that
// share its prefix, for use as an exclusive lower bound.
func keyBefore(k string) string {
	if k == "" {
		return ""
	}
	last := k[len(k)-1]
	if last == 0 {
		return k[:len(k)-1]
	}
	return k[:len(k)-1] + string([]byte{last - 1}) + "\xff"
}
