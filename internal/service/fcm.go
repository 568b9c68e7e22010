package service

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"unitalk/internal/model"
)

// fcmMessenger is the part of *messaging.Client the FCM client uses.
type fcmMessenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMClient wraps the Firebase Cloud Messaging client.
//
// The credentials (project ID, client email, private key) come from Firebase Console:
// Project Settings -> Service Accounts -> Generate New Private Key
type FCMClient struct {
	client fcmMessenger
	logger *zap.Logger
}

// NewFCMClient creates a new FCM client from service account credentials.
// The private key may carry literal "\n" sequences as found in .env files.
func NewFCMClient(ctx context.Context, projectID, clientEmail, privateKey string, logger *zap.Logger) (*FCMClient, error) {
	privateKey = strings.ReplaceAll(privateKey, "\\n", "\n")

	credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, projectID, privateKey, clientEmail)

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON([]byte(credsJSON)))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	logger.Info("FCM initialized", zap.String("project", projectID))
	return &FCMClient{client: client, logger: logger.Named("fcm")}, nil
}

// Send pushes n to one FCM registration token.
func (c *FCMClient) Send(ctx context.Context, n model.PushNotification) error {
	if n.Token == "" {
		return nil
	}

	badge := 1
	message := &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "messages",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
					Badge: &badge,
				},
			},
		},
	}

	id, err := c.client.Send(ctx, message)
	if err != nil {
		c.logger.Warn("Send FAILED", zap.String("token", tokenPrefix(n.Token)), zap.Error(err))
		return fmt.Errorf("fcm send: %w", err)
	}

	c.logger.Debug("Send OK", zap.String("token", tokenPrefix(n.Token)), zap.String("id", id))
	return nil
}

// tokenPrefix keeps device tokens out of the logs.
func tokenPrefix(token string) string {
	return token[:min(20, len(token))]
}
