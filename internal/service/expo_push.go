package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/model"
)

// ExpoPushClient sends push notifications via Expo's Push API.
// Expo tokens look like "ExponentPushToken[xxx]" and need no credentials.
type ExpoPushClient struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

// ExpoPushMessage is the payload for Expo's Push API.
type ExpoPushMessage struct {
	To        []string          `json:"to"`                  // Expo push tokens
	Title     string            `json:"title,omitempty"`     // Notification title
	Body      string            `json:"body"`                // Notification body (required)
	Data      map[string]string `json:"data,omitempty"`      // Custom data payload
	Sound     string            `json:"sound,omitempty"`     // "default" or custom sound
	Badge     *int              `json:"badge,omitempty"`     // iOS badge count
	Priority  string            `json:"priority,omitempty"`  // "default", "normal", "high"
	ChannelID string            `json:"channelId,omitempty"` // Android notification channel
}

// ExpoPushResponse is the response from Expo's API.
type ExpoPushResponse struct {
	Data []ExpoPushTicket `json:"data"`
}

type ExpoPushTicket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id"`     // Ticket ID for receipt checking
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"` // "DeviceNotRegistered", "MessageTooBig", etc.
	} `json:"details,omitempty"`
}

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// NewExpoPushClient creates a new Expo Push client.
func NewExpoPushClient(logger *zap.Logger) *ExpoPushClient {
	return &ExpoPushClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		endpoint: expoPushURL,
		logger:   logger.Named("expo"),
	}
}

// IsExpoToken reports whether token was issued by Expo rather than FCM.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

// Send pushes n to one Expo push token.
func (c *ExpoPushClient) Send(ctx context.Context, n model.PushNotification) error {
	if !IsExpoToken(n.Token) {
		c.logger.Debug("Skipping invalid token format", zap.String("token", tokenPrefix(n.Token)))
		return nil
	}

	badge := 1
	message := ExpoPushMessage{
		To:        []string{n.Token},
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		Sound:     "default",
		Badge:     &badge,
		Priority:  "high",
		ChannelID: "messages",
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var pushResp ExpoPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		// The push was accepted; an unreadable ticket is not a delivery failure
		c.logger.Warn("Failed to parse response", zap.Error(err))
		return nil
	}

	for _, ticket := range pushResp.Data {
		if ticket.Status != "ok" {
			return fmt.Errorf("expo ticket error: %s (%s)", ticket.Message, ticket.Details.Error)
		}
	}

	c.logger.Debug("Send OK", zap.String("token", tokenPrefix(n.Token)))
	return nil
}
