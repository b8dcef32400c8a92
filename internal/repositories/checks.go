package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pinger is satisfied by the state stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SecretPinger is satisfied by the Secret Manager resolver.
type SecretPinger interface {
	Ping(ctx context.Context, ref string) error
}

// PingCheck probes a dependency exposing Ping.
func PingCheck(name string, target Pinger) DependencyCheck {
	return DependencyCheck{
		Name: name,
		Check: func(ctx context.Context) error {
			if target == nil {
				return fmt.Errorf("%s not configured", name)
			}
			return target.Ping(ctx)
		},
	}
}

// PubSubTopicCheck reports an error when the event topic does not exist.
func PubSubTopicCheck(topic *pubsub.Topic) DependencyCheck {
	return DependencyCheck{
		Name:    "pubsub",
		Timeout: 3 * time.Second,
		Check: func(ctx context.Context) error {
			if topic == nil {
				return errors.New("topic not configured")
			}
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

// SecretCheck resolves ref against Secret Manager. A missing secret still proves the API is
// reachable and counts as healthy.
func SecretCheck(resolver SecretPinger, ref string) DependencyCheck {
	return DependencyCheck{
		Name:    "secrets",
		Timeout: 3 * time.Second,
		Check: func(ctx context.Context) error {
			if resolver == nil {
				return errors.New("secret resolver not configured")
			}
			err := resolver.Ping(ctx, ref)
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
