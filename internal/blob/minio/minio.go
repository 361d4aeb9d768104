// Package minio stores media objects in a MinIO or other S3-compatible
// server through minio-go.
package minio

import (
	"context"
	"errors"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fieldline/internal/blob"
	"fieldline/internal/remote"
)

type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Driver implements blob.Driver.
type Driver struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Driver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &Driver{client: client, bucket: cfg.Bucket}, nil
}

func (d *Driver) Put(ctx context.Context, obj blob.Object, progress func(sent int64)) error {
	opts := minio.PutObjectOptions{ContentType: obj.ContentType}
	if progress != nil {
		opts.Progress = &progressSink{fn: progress}
	}
	_, err := d.client.PutObject(ctx, d.bucket, obj.Key, obj.Body, obj.Size, opts)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// progressSink receives a Read call per uploaded chunk; the slice length is
// the number of bytes just sent. Multipart uploads call Read from one
// goroutine per part, so fn runs under mu and sees a growing total.
type progressSink struct {
	mu    sync.Mutex
	total int64
	fn    func(int64)
}

func (p *progressSink) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += int64(len(b))
	p.fn(p.total)
	return len(b), nil
}

func translateError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return &remote.Error{Op: "put object", StatusCode: resp.StatusCode, Body: resp.Code, Err: err}
	}
	return remote.Wrap("put object", err)
}
