package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/calldeck/callscribe/internal/recorder"
)

const eventSource = "callscribe"

// EventBridgeBus publishes call events to an EventBridge bus, detail-typed
// by event type so consumers can pattern-match on lifecycle vs segments.
type EventBridgeBus struct {
	client *eventbridge.Client
	bus    string
}

func NewEventBridgeBus(client *eventbridge.Client, bus string) recorder.EventBus {
	return &EventBridgeBus{client: client, bus: bus}
}

func (b *EventBridgeBus) Publish(ctx context.Context, rec recorder.Record) error {
	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(b.bus),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(string(rec.EventType)),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		return fmt.Errorf("event bus rejected entry: %s (%s)",
			aws.ToString(entry.ErrorMessage), aws.ToString(entry.ErrorCode))
	}
	return nil
}
