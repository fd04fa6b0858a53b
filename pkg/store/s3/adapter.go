package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/store/awsclient"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

// Config defines S3 adapter configuration.
type Config struct {
	Bucket       string
	Endpoint     string
	UsePathStyle bool
	Client       awsclient.Options
	// OperationTimeout is the context ceiling for one adapter call, retries included.
	// It is independent from Client.RequestTimeout, which bounds a single attempt.
	OperationTimeout time.Duration
	PresignExpiry    time.Duration
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Object is a downloaded object with its descriptor.
type Object struct {
	ObjectInfo
	Payload []byte
}

// ListPage is one page of a prefix listing. NextToken is empty on the last page.
type ListPage struct {
	Objects   []ObjectInfo
	NextToken string
}

// Client is the subset of the S3 API used by the adapter.
type Client interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *awss3.DeleteBucketInput, optFns ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error)
	PutBucketPolicy(ctx context.Context, params *awss3.PutBucketPolicyInput, optFns ...func(*awss3.Options)) (*awss3.PutBucketPolicyOutput, error)
	DeletePublicAccessBlock(ctx context.Context, params *awss3.DeletePublicAccessBlockInput, optFns ...func(*awss3.Options)) (*awss3.DeletePublicAccessBlockOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type lifecycle struct {
	mu     sync.RWMutex
	closed bool
}

// Adapter provides object storage operations backed by the S3 API. Adapters derived
// with WithBucket share the underlying client and lifecycle.
type Adapter struct {
	client  Client
	presign presignAPI
	logger  logger.Logger
	config  Config
	state   *lifecycle
}

const (
	defaultOperationTimeout = 15 * time.Minute
	defaultPresignExpiry    = 15 * time.Minute
	deleteBatchSize         = 1000
)

func (c Config) normalize() (Config, error) {
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = defaultPresignExpiry
	}
	c.Client = c.Client.Normalize()
	if c.Client.Region == "" {
		return c, errors.New("aws region is required")
	}
	return c, nil
}

// NewAdapter creates an S3 adapter. The client is built once and reused for every
// call. The bucket is not contacted; use Ping or EnsureBucket.
func NewAdapter(ctx context.Context, cfg Config, log logger.Logger) (*Adapter, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsclient.Load(ctx, cfg.Client)
	if err != nil {
		return nil, err
	}

	clientOptions := make([]func(*awss3.Options), 0, 2)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	client := awss3.NewFromConfig(awsCfg, clientOptions...)
	log.Info("S3 adapter initialized", "bucket", cfg.Bucket, "region", cfg.Client.Region, "endpoint", cfg.Endpoint)
	return &Adapter{
		client:  client,
		presign: awss3.NewPresignClient(client),
		logger:  log,
		config:  cfg,
		state:   &lifecycle{},
	}, nil
}

// NewAdapterWithClient wires an adapter around an existing client.
func NewAdapterWithClient(cfg Config, client Client, log logger.Logger) *Adapter {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = defaultPresignExpiry
	}
	if log == nil {
		log = logger.Nop()
	}
	adapter := &Adapter{client: client, logger: log, config: cfg, state: &lifecycle{}}
	if p, ok := client.(presignAPI); ok {
		adapter.presign = p
	}
	return adapter
}

// WithBucket returns an adapter bound to bucket sharing this adapter's client.
func (a *Adapter) WithBucket(bucket string) *Adapter {
	clone := *a
	clone.config.Bucket = strings.TrimSpace(bucket)
	return &clone
}

// Bucket returns the bucket the adapter is bound to.
func (a *Adapter) Bucket() string { return a.config.Bucket }

// Ping verifies that the configured bucket is accessible.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	_, err := a.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(a.config.Bucket),
	})
	if err != nil {
		return a.classify("ping bucket", a.config.Bucket, err)
	}
	return nil
}

// BucketExists reports whether the bucket exists and is reachable.
func (a *Adapter) BucketExists(ctx context.Context) (bool, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	err := a.Ping(opCtx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storeerr.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// EnsureBucket creates the bucket when it does not exist yet and reports whether it
// was created by this call.
func (a *Adapter) EnsureBucket(ctx context.Context) (bool, error) {
	exists, err := a.BucketExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.CreateBucketInput{Bucket: aws.String(a.config.Bucket)}
	if region := a.config.Client.Region; region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &awss3types.CreateBucketConfiguration{
			LocationConstraint: awss3types.BucketLocationConstraint(region),
		}
	}
	_, err = a.client.CreateBucket(opCtx, input)
	if err != nil {
		var owned *awss3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return false, nil
		}
		return false, a.classify("create bucket", a.config.Bucket, err)
	}
	a.logger.Info("S3 bucket created", "bucket", a.config.Bucket)
	return true, nil
}

// SetPublicRead grants anonymous read access to every object of the bucket.
func (a *Adapter) SetPublicRead(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	_, err := a.client.DeletePublicAccessBlock(opCtx, &awss3.DeletePublicAccessBlockInput{
		Bucket: aws.String(a.config.Bucket),
	})
	if err != nil && storeerr.ErrorCode(err) != "NotImplemented" && !storeerr.IsNotFound(err) {
		return a.classify("remove public access block", a.config.Bucket, err)
	}

	policy, err := publicReadPolicy(a.config.Bucket)
	if err != nil {
		return err
	}
	_, err = a.client.PutBucketPolicy(opCtx, &awss3.PutBucketPolicyInput{
		Bucket: aws.String(a.config.Bucket),
		Policy: aws.String(policy),
	})
	if err != nil {
		return a.classify("put bucket policy", a.config.Bucket, err)
	}
	return nil
}

func publicReadPolicy(bucket string) (string, error) {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Sid":       "PublicReadGetObject",
			"Effect":    "Allow",
			"Principal": "*",
			"Action":    []string{"s3:GetObject"},
			"Resource":  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeleteBucket empties and deletes the bucket. It reports false when the bucket did
// not exist.
func (a *Adapter) DeleteBucket(ctx context.Context) (bool, error) {
	if err := a.ensureOpen(); err != nil {
		return false, err
	}
	token := ""
	for {
		page, err := a.ListPage(ctx, "", token, deleteBatchSize)
		if err != nil {
			if errors.Is(err, storeerr.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if err := a.deleteKeys(ctx, page.Objects); err != nil {
			return false, err
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.DeleteBucket(opCtx, &awss3.DeleteBucketInput{Bucket: aws.String(a.config.Bucket)})
	if err != nil {
		if storeerr.IsNotFound(err) {
			return false, nil
		}
		return false, a.classify("delete bucket", a.config.Bucket, err)
	}
	a.logger.Info("S3 bucket deleted", "bucket", a.config.Bucket)
	return true, nil
}

func (a *Adapter) deleteKeys(ctx context.Context, objects []ObjectInfo) error {
	if len(objects) == 0 {
		return nil
	}
	ids := make([]awss3types.ObjectIdentifier, 0, len(objects))
	for _, obj := range objects {
		ids = append(ids, awss3types.ObjectIdentifier{Key: aws.String(obj.Key)})
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	resp, err := a.client.DeleteObjects(opCtx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(a.config.Bucket),
		Delete: &awss3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return a.classify("delete objects", a.config.Bucket, err)
	}
	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		return fmt.Errorf("failed to delete %d objects, first %q: %s", len(resp.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

// Upload stores an object and returns its ETag (without quotes when present).
func (a *Adapter) Upload(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) (string, error) {
	return a.put(ctx, key, body, contentType, metadata, nil)
}

// UploadBytes stores an object from an in-memory byte slice.
func (a *Adapter) UploadBytes(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]string) (string, error) {
	return a.put(ctx, key, bytes.NewReader(payload), contentType, metadata, nil)
}

// PutIfMatch replaces an object only when its current ETag equals etag. A mismatch
// returns storeerr.ErrConflict.
func (a *Adapter) PutIfMatch(ctx context.Context, key string, payload []byte, contentType, etag string) (string, error) {
	return a.put(ctx, key, bytes.NewReader(payload), contentType, nil, func(in *awss3.PutObjectInput) {
		in.IfMatch = aws.String(quoteETag(etag))
	})
}

// PutIfAbsent creates an object only when the key is free. An existing object
// returns storeerr.ErrConflict.
func (a *Adapter) PutIfAbsent(ctx context.Context, key string, payload []byte, contentType string) (string, error) {
	return a.put(ctx, key, bytes.NewReader(payload), contentType, nil, func(in *awss3.PutObjectInput) {
		in.IfNoneMatch = aws.String("*")
	})
}

func (a *Adapter) put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string, mutate func(*awss3.PutObjectInput)) (string, error) {
	if err := a.ensureOpen(); err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", storeerr.New(storeerr.ErrInvalidArgument, "object key is required")
	}
	if body == nil {
		return "", storeerr.New(storeerr.ErrInvalidArgument, "object body is required")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.PutObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if strings.TrimSpace(contentType) != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}
	if mutate != nil {
		mutate(input)
	}

	resp, err := a.client.PutObject(opCtx, input)
	if err != nil {
		return "", a.classify("upload object", key, err)
	}
	return trimETag(aws.ToString(resp.ETag)), nil
}

// Download fetches an object payload and returns bytes + content type.
func (a *Adapter) Download(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := a.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return obj.Payload, obj.ContentType, nil
}

// Get fetches an object payload together with its descriptor. A missing object
// returns storeerr.ErrNotFound.
func (a *Adapter) Get(ctx context.Context, key string) (*Object, error) {
	body, info, err := a.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrRetryable, fmt.Sprintf("read object %q", key), err)
	}
	return &Object{ObjectInfo: *info, Payload: payload}, nil
}

// Open streams an object. The caller closes the returned body.
func (a *Adapter) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, nil, storeerr.New(storeerr.ErrInvalidArgument, "object key is required")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	resp, err := a.client.GetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, nil, a.classify("download object", key, err)
	}
	info := &ObjectInfo{
		Key:          key,
		ETag:         trimETag(aws.ToString(resp.ETag)),
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
		Metadata:     resp.Metadata,
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, info, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// Head returns an object descriptor including user metadata.
func (a *Adapter) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "object key is required")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	resp, err := a.client.HeadObject(opCtx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, a.classify("head object", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		ETag:         trimETag(aws.ToString(resp.ETag)),
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
		Metadata:     resp.Metadata,
	}, nil
}

// ObjectMetadata returns the user metadata of key.
func (a *Adapter) ObjectMetadata(ctx context.Context, key string) (map[string]string, error) {
	info, err := a.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	if info.Metadata == nil {
		return map[string]string{}, nil
	}
	return info.Metadata, nil
}

// ReplaceObjectMetadata rewrites the user metadata of key in place with a server-side
// copy, keeping the payload and content type.
func (a *Adapter) ReplaceObjectMetadata(ctx context.Context, key string, metadata map[string]string) error {
	info, err := a.Head(ctx, key)
	if err != nil {
		return err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.CopyObjectInput{
		Bucket:            aws.String(a.config.Bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(a.config.Bucket, key)),
		CopySourceIfMatch: aws.String(quoteETag(info.ETag)),
		Metadata:          metadata,
		MetadataDirective: awss3types.MetadataDirectiveReplace,
	}
	if info.ContentType != "" {
		input.ContentType = aws.String(info.ContentType)
	}
	if _, err := a.client.CopyObject(opCtx, input); err != nil {
		return a.classify("replace object metadata", key, err)
	}
	return nil
}

// Delete removes an object by key. Deleting a missing key succeeds.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return storeerr.New(storeerr.ErrInvalidArgument, "object key is required")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	_, err := a.client.DeleteObject(opCtx, &awss3.DeleteObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return a.classify("delete object", key, err)
	}
	return nil
}

// ListPage returns one page of objects under prefix, starting at token.
func (a *Adapter) ListPage(ctx context.Context, prefix, token string, maxKeys int32) (ListPage, error) {
	if err := a.ensureOpen(); err != nil {
		return ListPage{}, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(a.config.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxKeys),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	resp, err := a.client.ListObjectsV2(opCtx, input)
	if err != nil {
		return ListPage{}, a.classify("list objects", prefix, err)
	}

	page := ListPage{Objects: make([]ObjectInfo, 0, len(resp.Contents))}
	for _, item := range resp.Contents {
		page.Objects = append(page.Objects, toObjectInfo(item))
	}
	if aws.ToBool(resp.IsTruncated) {
		page.NextToken = aws.ToString(resp.NextContinuationToken)
	}
	return page, nil
}

// PresignGetURL generates a temporary download URL.
func (a *Adapter) PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := a.ensureOpen(); err != nil {
		return "", err
	}
	if a.presign == nil {
		return "", errors.New("s3 adapter has no presign client")
	}
	if strings.TrimSpace(key) == "" {
		return "", storeerr.New(storeerr.ErrInvalidArgument, "object key is required")
	}
	if expiry <= 0 {
		expiry = a.config.PresignExpiry
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	resp, err := a.presign.PresignGetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}, func(opts *awss3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %q: %w", key, err)
	}
	return resp.URL, nil
}

// HealthCheck verifies the adapter can reach the bucket within a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("S3 health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter, and every adapter derived from it, as closed.
func (a *Adapter) Close() error {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	a.state.closed = true
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < a.config.OperationTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

func (a *Adapter) ensureOpen() error {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	if a.state.closed {
		return storeerr.New(storeerr.ErrClosed, "s3 adapter is closed")
	}
	return nil
}

func (a *Adapter) classify(op, subject string, err error) error {
	msg := fmt.Sprintf("failed to %s %q in bucket %q", op, subject, a.config.Bucket)
	switch {
	case storeerr.IsNotFound(err):
		return storeerr.Wrap(storeerr.ErrNotFound, msg, err)
	case storeerr.IsConflict(err):
		return storeerr.Wrap(storeerr.ErrConflict, msg, err)
	case storeerr.IsThrottling(err):
		return storeerr.Wrap(storeerr.ErrRetryable, msg, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func trimETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), "\"")
}

func quoteETag(etag string) string {
	etag = trimETag(etag)
	if etag == "" || etag == "*" {
		return etag
	}
	return "\"" + etag + "\""
}

func toObjectInfo(item awss3types.Object) ObjectInfo {
	return ObjectInfo{
		Key:          aws.ToString(item.Key),
		ETag:         trimETag(aws.ToString(item.ETag)),
		Size:         aws.ToInt64(item.Size),
		LastModified: aws.ToTime(item.LastModified),
	}
}
