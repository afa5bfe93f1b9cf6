package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmMulticastLimit FCM 单次多播最多 500 个 token
const fcmMulticastLimit = 500

// FCMClient Firebase Cloud Messaging 实现
type FCMClient struct {
	messaging *messaging.Client
}

// NewFCMClient credentialsFile 为空时使用 GOOGLE_APPLICATION_CREDENTIALS
func NewFCMClient(ctx context.Context, credentialsFile string) (*FCMClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMClient{messaging: client}, nil
}

func (c *FCMClient) SendToDevices(ctx context.Context, tokens []string, msg Message) ([]Failure, error) {
	var failures []Failure
	for start := 0; start < len(tokens); start += fcmMulticastLimit {
		chunk := tokens[start:min(start+fcmMulticastLimit, len(tokens))]

		resp, err := c.messaging.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
			Android:      &messaging.AndroidConfig{Priority: "high"},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
			},
		})
		if err != nil {
			return failures, fmt.Errorf("%w: FCM multicast: %w", ErrProviderUnavailable, err)
		}

		chunkFailures, providerDown := classifyResponses(chunk, resp.Responses)
		failures = append(failures, chunkFailures...)
		if providerDown {
			return failures, fmt.Errorf("%w: every token failed with a server error", ErrProviderUnavailable)
		}
	}
	return failures, nil
}

// classifyResponses 必须拿原始错误判断：firebase 的 Is* 不认包装过的错误
func classifyResponses(tokens []string, responses []*messaging.SendResponse) ([]Failure, bool) {
	var (
		failures    []Failure
		serverFails int
	)
	for i, r := range responses {
		if r == nil || r.Success {
			continue
		}
		failures = append(failures, Failure{
			Token:        tokens[i],
			Unregistered: messaging.IsUnregistered(r.Error),
			Err:          r.Error,
		})
		if errorutils.IsUnavailable(r.Error) || errorutils.IsInternal(r.Error) {
			serverFails++
		}
	}
	return failures, len(responses) > 0 && serverFails == len(responses)
}
