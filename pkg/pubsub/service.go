package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	// PubID prefixes the "name" attribute so subscriptions can filter per environment
	// (e.g. "", "beta", "qa", "stage").
	PubID string `mapstructure:"pub_id"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallOutcomeEvent is the payload published when an outbound call leaves the orchestrator.
type CallOutcomeEvent struct {
	ID            string    `json:"id"`
	RoomName      string    `json:"room_name"`
	PhoneNumber   string    `json:"phone_number"`
	CustomerName  string    `json:"customer_name"`
	Outcome       string    `json:"outcome"`
	SIPStatusCode int       `json:"sip_status_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Duration      int       `json:"duration"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("PubSub topic name is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic_name", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallOutcome publishes a call outcome and waits for the server ack.
func (p *PubSubService) PublishCallOutcome(ctx context.Context, outcome CallOutcomeEvent) error {
	message, err := NewOutcomeMessage(p.config.PubID, outcome)
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		logger.Base().Error("Failed to publish call outcome", zap.String("room_name", outcome.RoomName), zap.Error(err))
		return fmt.Errorf("failed to publish call outcome: %w", err)
	}

	logger.Base().Info("Published call outcome",
		zap.String("room_name", outcome.RoomName),
		zap.String("outcome", outcome.Outcome),
		zap.String("server_id", serverID))
	return nil
}

// NewOutcomeMessage builds the Pub/Sub message for an outcome, assigning an id when missing.
func NewOutcomeMessage(pubID string, outcome CallOutcomeEvent) (*pubsub.Message, error) {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call outcome: %w", err)
	}

	namePrefix := strings.TrimSuffix(pubID, ":")
	if namePrefix != "" {
		namePrefix += ":"
	}

	return &pubsub.Message{
		Attributes: map[string]string{
			"name":    fmt.Sprintf("%scall:outcome:%s", namePrefix, outcome.ID),
			"outcome": outcome.Outcome,
		},
		Data: data,
	}, nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
