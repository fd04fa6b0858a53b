// Package s3test provides an in-memory S3 client for tests. It honours buckets,
// conditional writes, metadata replacement and paged listings the way the S3 API does.
package s3test

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type object struct {
	data         []byte
	etag         string
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

type bucket struct {
	objects map[string]*object
	policy  string
}

// Fake is an in-memory S3 client. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   map[string]int

	// PageLimit caps MaxKeys for listings when positive.
	PageLimit int32
	// OnGetObject, when set, runs before GetObject and may inject a failure.
	OnGetObject func(bucket, key string) error
	// OnPutObject, when set, runs before PutObject and may inject a failure.
	OnPutObject func(bucket, key string) error
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{buckets: map[string]*bucket{}, calls: map[string]int{}}
}

// Calls returns how many times the named API operation was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// AddBucket creates a bucket directly.
func (f *Fake) AddBucket(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[name]; !ok {
		f.buckets[name] = &bucket{objects: map[string]*object{}}
	}
}

// HasBucket reports whether name exists.
func (f *Fake) HasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[name]
	return ok
}

// Policy returns the bucket policy document, if any.
func (f *Fake) Policy(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[name]; ok {
		return b.policy
	}
	return ""
}

// ObjectData returns a copy of a stored payload.
func (f *Fake) ObjectData(bucketName, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketName]
	if !ok {
		return nil, false
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// ObjectMetadata returns a copy of stored user metadata.
func (f *Fake) ObjectMetadata(bucketName, key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketName]
	if !ok {
		return nil
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil
	}
	return copyMetadata(obj.metadata)
}

// Tamper overwrites a stored payload without touching metadata.
func (f *Fake) Tamper(bucketName, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketName]
	if !ok {
		return
	}
	if obj, ok := b.objects[key]; ok {
		obj.data = append([]byte(nil), data...)
	}
}

// ObjectCount returns the number of objects in a bucket.
func (f *Fake) ObjectCount(bucketName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[bucketName]; ok {
		return len(b.objects)
	}
	return 0
}

func (f *Fake) record(op string) {
	f.calls[op]++
}

func (f *Fake) bucket(name *string) (*bucket, error) {
	b, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, &awss3types.NoSuchBucket{Message: aws.String("bucket " + aws.ToString(name) + " does not exist")}
	}
	return b, nil
}

func precondition() error {
	return &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

func sameETag(a, b string) bool {
	return strings.Trim(a, "\"") == strings.Trim(b, "\"")
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (f *Fake) HeadBucket(_ context.Context, in *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HeadBucket")
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &awss3types.NotFound{}
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (f *Fake) CreateBucket(_ context.Context, in *awss3.CreateBucketInput, _ ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateBucket")
	name := aws.ToString(in.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, &awss3types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[name] = &bucket{objects: map[string]*object{}}
	return &awss3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

func (f *Fake) DeleteBucket(_ context.Context, in *awss3.DeleteBucketInput, _ ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteBucket")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if len(b.objects) > 0 {
		return nil, &smithy.GenericAPIError{Code: "BucketNotEmpty", Message: "The bucket you tried to delete is not empty"}
	}
	delete(f.buckets, aws.ToString(in.Bucket))
	return &awss3.DeleteBucketOutput{}, nil
}

func (f *Fake) PutBucketPolicy(_ context.Context, in *awss3.PutBucketPolicyInput, _ ...func(*awss3.Options)) (*awss3.PutBucketPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutBucketPolicy")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.policy = aws.ToString(in.Policy)
	return &awss3.PutBucketPolicyOutput{}, nil
}

func (f *Fake) DeletePublicAccessBlock(_ context.Context, in *awss3.DeletePublicAccessBlockInput, _ ...func(*awss3.Options)) (*awss3.DeletePublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeletePublicAccessBlock")
	if _, err := f.bucket(in.Bucket); err != nil {
		return nil, err
	}
	return &awss3.DeletePublicAccessBlockOutput{}, nil
}

func (f *Fake) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		raw, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutObject")
	if f.OnPutObject != nil {
		if err := f.OnPutObject(aws.ToString(in.Bucket), aws.ToString(in.Key)); err != nil {
			return nil, err
		}
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	existing, exists := b.objects[key]
	if in.IfNoneMatch != nil && aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, precondition()
	}
	if in.IfMatch != nil {
		if !exists {
			return nil, &awss3types.NoSuchKey{Message: aws.String("key " + key + " does not exist")}
		}
		if !sameETag(existing.etag, aws.ToString(in.IfMatch)) {
			return nil, precondition()
		}
	}

	obj := &object{
		data:         data,
		etag:         etagOf(data),
		contentType:  aws.ToString(in.ContentType),
		metadata:     copyMetadata(in.Metadata),
		lastModified: time.Now().UTC(),
	}
	b.objects[key] = obj
	return &awss3.PutObjectOutput{ETag: aws.String(obj.etag)}, nil
}

func (f *Fake) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetObject")
	if f.OnGetObject != nil {
		if err := f.OnGetObject(aws.ToString(in.Bucket), aws.ToString(in.Key)); err != nil {
			return nil, err
		}
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &awss3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	data := append([]byte(nil), obj.data...)
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.lastModified),
		Metadata:      copyMetadata(obj.metadata),
	}, nil
}

func (f *Fake) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HeadObject")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &awss3types.NotFound{}
	}
	return &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.lastModified),
		Metadata:      copyMetadata(obj.metadata),
	}, nil
}

func (f *Fake) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CopyObject")

	source := aws.ToString(in.CopySource)
	srcBucket, srcKey, found := strings.Cut(source, "/")
	if !found {
		return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: "invalid copy source " + source}
	}
	decodedKey, err := url.PathUnescape(srcKey)
	if err != nil {
		return nil, err
	}
	sb, err := f.bucket(aws.String(srcBucket))
	if err != nil {
		return nil, err
	}
	src, ok := sb.objects[decodedKey]
	if !ok {
		return nil, &awss3types.NoSuchKey{}
	}
	if in.CopySourceIfMatch != nil && !sameETag(src.etag, aws.ToString(in.CopySourceIfMatch)) {
		return nil, precondition()
	}
	db, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	metadata := copyMetadata(src.metadata)
	if in.MetadataDirective == awss3types.MetadataDirectiveReplace {
		metadata = copyMetadata(in.Metadata)
	}
	contentType := src.contentType
	if in.ContentType != nil {
		contentType = aws.ToString(in.ContentType)
	}
	obj := &object{
		data:         append([]byte(nil), src.data...),
		etag:         src.etag,
		contentType:  contentType,
		metadata:     metadata,
		lastModified: time.Now().UTC(),
	}
	db.objects[aws.ToString(in.Key)] = obj
	return &awss3.CopyObjectOutput{CopyObjectResult: &awss3types.CopyObjectResult{ETag: aws.String(obj.etag)}}, nil
}

func (f *Fake) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteObject")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(b.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *Fake) DeleteObjects(_ context.Context, in *awss3.DeleteObjectsInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteObjects")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if in.Delete == nil {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML"}
	}
	for _, id := range in.Delete.Objects {
		delete(b.objects, aws.ToString(id.Key))
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (f *Fake) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListObjectsV2")
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) && key > after {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	limit := aws.ToInt32(in.MaxKeys)
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if f.PageLimit > 0 && limit > f.PageLimit {
		limit = f.PageLimit
	}

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for i, key := range keys {
		if int32(i) == limit {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(keys[i-1])
			break
		}
		obj := b.objects[key]
		out.Contents = append(out.Contents, awss3types.Object{
			Key:          aws.String(key),
			ETag:         aws.String(obj.etag),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.lastModified),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

// PresignGetObject returns a deterministic URL for the object.
func (f *Fake) PresignGetObject(_ context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := awss3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://fake.s3.local/%s/%s?expires=%d", aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds())),
		Method: "GET",
	}, nil
}
