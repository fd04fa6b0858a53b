// Package awsclient builds the shared aws.Config used by the S3 and DynamoDB adapters.
package awsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options tune the SDK client. Zero values fall back to the defaults below.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration
	// MaxAttempts bounds attempts per call, including the first one. Only transient
	// faults (throttling, 5xx, connection resets) are retried.
	MaxAttempts int
	// MaxBackoff caps the exponential backoff between attempts.
	MaxBackoff time.Duration
}

const (
	// DefaultRequestTimeout bounds one SDK call when Options.RequestTimeout is unset.
	DefaultRequestTimeout = 5 * time.Minute
	// DefaultMaxAttempts is used when Options.MaxAttempts is unset.
	DefaultMaxAttempts = 5
	// DefaultMaxBackoff caps the retry backoff when Options.MaxBackoff is unset.
	DefaultMaxBackoff = 10 * time.Second
)

// Normalize applies defaults.
func (o Options) Normalize() Options {
	o.Region = strings.TrimSpace(o.Region)
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	return o
}

// Load resolves an aws.Config from the default chain, overriding region, static
// credentials, retryer and HTTP client from opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	opts = opts.Normalize()
	if opts.Region == "" {
		return aws.Config{}, errors.New("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(so *retry.StandardOptions) {
				so.MaxAttempts = opts.MaxAttempts
				so.MaxBackoff = opts.MaxBackoff
			})
		}),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(opts.RequestTimeout)),
	}
	if opts.AccessKeyID != "" || opts.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}
