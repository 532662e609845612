package transcribe

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/transcribe"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcribe.Streamer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		switch cfg.TranscribeProvider {
		case config.ProviderAWS:
			ac := do.MustInvoke[aws.Config](i)
			return NewAWSStreamer(transcribestreaming.NewFromConfig(ac)), nil
		case config.ProviderGoogle:
			return NewCloudSpeechStreamer(CloudSpeechConfig{
				ProjectID:       cfg.GoogleCloudProjectID,
				CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
				Location:        cfg.GoogleCloudSpeechLocation,
				Model:           cfg.GoogleCloudSpeechModel,
			}), nil
		default:
			return nil, fmt.Errorf("unknown transcribe provider %q", cfg.TranscribeProvider)
		}
	})
}
