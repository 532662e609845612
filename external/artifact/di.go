package artifact

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/artifact"
	"github.com/calldeck/callscribe/internal/config"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*artifact.Writer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ac := do.MustInvoke[aws.Config](i)
		store := NewS3ObjectStore(s3.NewFromConfig(ac), cfg.ArtifactBucket)
		return artifact.NewWriter(store, cfg.MergedAudioPrefix, cfg.LegAudioPrefix, cfg.MonoArtifact), nil
	})
}
