// Package s3 stores media objects in Amazon S3 through aws-sdk-go-v2.
package s3

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"fieldline/internal/blob"
	"fieldline/internal/remote"
)

type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// PutObjectAPI is the slice of the S3 client the driver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Driver implements blob.Driver.
type Driver struct {
	client PutObjectAPI
	bucket string
}

func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}
	// retries are owned by the sync orchestrator
	awsCfg.RetryMaxAttempts = 1
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewWithClient(client, cfg.Bucket), nil
}

func NewWithClient(client PutObjectAPI, bucket string) *Driver {
	return &Driver{client: client, bucket: bucket}
}

func (d *Driver) Put(ctx context.Context, obj blob.Object, progress func(sent int64)) error {
	body := obj.Body
	if progress != nil {
		body = &blob.ProgressReader{R: obj.Body, OnRead: progress}
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(obj.Key),
		Body:          body,
		ContentLength: aws.Int64(obj.Size),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if _, err := d.client.PutObject(ctx, input); err != nil {
		return translateError(err)
	}
	return nil
}

func translateError(err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 0 {
		return &remote.Error{Op: "put object", StatusCode: respErr.HTTPStatusCode(), Err: err}
	}
	var canceled *aws.RequestCanceledError
	if errors.As(err, &canceled) {
		return remote.Wrap("put object", context.Canceled)
	}
	if errors.Is(err, http.ErrHandlerTimeout) {
		return remote.Wrap("put object", context.DeadlineExceeded)
	}
	return remote.Wrap("put object", err)
}
