// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads through a Pub/Sub client.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher. defaultTopic is used when Publish receives an empty topic.
func New(client *pubsub.Client, defaultTopic string) *Publisher {
	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		topics:       make(map[string]*pubsub.Topic),
	}
}

// Publish marshals the payload to JSON and blocks until the server acknowledges it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	result := p.topic(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops every topic handle opened by the publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}
