// Package notify delivers push notifications to riders and drivers through Firebase Cloud
// Messaging. Delivery is best-effort; callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"campuspool/internal/logger"
	"campuspool/internal/o11y"
	"campuspool/internal/types"
)

var ErrUnregistered = errors.New("fcm token unregistered")

// TokenSource resolves a user's FCM device token. An empty token means the user has no
// registered device.
type TokenSource interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// Sender is the part of *messaging.Client the notifier uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	sender Sender
	tokens TokenSource
	log    logrus.FieldLogger
}

func NewFCMNotifier(sender Sender, tokens TokenSource, log logrus.FieldLogger) *FCMNotifier {
	return &FCMNotifier{sender: sender, tokens: tokens, log: logger.OrDiscard(log)}
}

func (n *FCMNotifier) Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) error {
	token, err := n.tokens.DeviceToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve device token for %s: %w", userID, err)
	}
	if token == "" {
		n.log.WithField("user_id", userID).Debug("no device token; notification skipped")
		return nil
	}
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		o11y.UpstreamErrors.WithLabelValues("fcm").Inc()
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: device token for %s is no longer registered", ErrUnregistered, userID)
		}
		return fmt.Errorf("%w: send fcm to %s: %v", types.ErrUpstreamUnavailable, userID, err)
	}
	n.log.WithFields(logrus.Fields{"user_id": userID, "message_id": id}).Debug("fcm sent")
	return nil
}

// LogNotifier writes notifications to the log. Used when FCM is not configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: logger.OrDiscard(log)}
}

func (n *LogNotifier) Notify(_ context.Context, userID types.ID, title, body string, data map[string]string) error {
	n.log.WithFields(logrus.Fields{"user_id": userID, "title": title, "body": body, "data": data}).Info("notification")
	return nil
}
