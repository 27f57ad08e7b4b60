package notify

import (
	"context"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

// Broker moves push messages between processes on a per-session topic.
type Broker interface {
	Publish(ctx context.Context, sessionID string, message any) error
	Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error)
}

// Notifier publishes the typed push messages of a game session.
type Notifier struct {
	broker Broker
}

func NewNotifier(b Broker) *Notifier {
	return &Notifier{broker: b}
}

func (n *Notifier) Feedback(ctx context.Context, sessionID string, judgment int, timestamp float64) error {
	return n.broker.Publish(ctx, sessionID, models.PushMessage{
		Type: constants.MessageTypeFeedback,
		Data: models.FeedbackData{Judgment: judgment, Timestamp: timestamp},
	})
}

func (n *Notifier) LevelDecision(ctx context.Context, sessionID string, level int, characterVideoURL string) error {
	return n.broker.Publish(ctx, sessionID, models.PushMessage{
		Type: constants.MessageTypeLevelDecision,
		Data: models.LevelDecisionData{NextLevel: level, CharacterVideoURL: characterVideoURL},
	})
}

func (n *Notifier) Interrupted(ctx context.Context, sessionID, message string) error {
	return n.broker.Publish(ctx, sessionID, models.PushMessage{
		Type: constants.MessageTypeGameInterrupted,
		Data: models.InterruptedData{Message: message},
	})
}
