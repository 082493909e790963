package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubChannel publishes notifications to a Google Cloud Pub/Sub topic for
// durable, cross-service delivery.
type PubSubChannel struct {
	id     string
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubChannel connects to the topic, creating it if missing.
func NewPubSubChannel(id, projectID, topicID string) (*PubSubChannel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
	}

	ch := &PubSubChannel{
		id:     id,
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[NOTIFY-PUBSUB] ", log.LstdFlags),
	}
	ch.logger.Printf("connected to projects/%s/topics/%s", projectID, topicID)
	return ch, nil
}

func (c *PubSubChannel) ID() string { return c.id }

func (c *PubSubChannel) ValidateConfig() error {
	if c.topic == nil {
		return fmt.Errorf("pubsub topic not connected")
	}
	return nil
}

// Send publishes one notification message. Attributes carry the routing
// fields so subscribers can filter server-side.
func (c *PubSubChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"rule":     n.RuleName,
			"source":   n.Event.Source,
			"category": string(n.Event.Category),
			"severity": severityLabel(n.Analysis),
		},
	}
	result := c.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (c *PubSubChannel) Close() {
	c.topic.Stop()
	if err := c.client.Close(); err != nil {
		c.logger.Printf("close: %v", err)
	}
}
