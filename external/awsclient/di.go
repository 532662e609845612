package awsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/config"
)

const credentialResolveTimeout = 15 * time.Second

// RegisterDI provides the shared aws.Config used by every AWS-backed
// adapter (DynamoDB, EventBridge, S3, Transcribe streaming).
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (aws.Config, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), credentialResolveTimeout)
		defer cancel()

		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		ac, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
		}
		return ac, nil
	})
}
