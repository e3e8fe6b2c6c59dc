package notify

import (
	"context"

	"consultchat/tools/errs"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// multicast batches are capped by FCM
const fcmBatchSize = 500

// FCMProvider pushes through Firebase Cloud Messaging. Android and web
// registrations both go through here.
type FCMProvider struct {
	client *messaging.Client
}

func NewFCMProvider(ctx context.Context, credentialsFile string) (*FCMProvider, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errs.ErrProviderFailure.WrapMsg("init firebase app", "err", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errs.ErrProviderFailure.WrapMsg("init fcm client", "err", err)
	}
	return &FCMProvider{client: client}, nil
}

func (p *FCMProvider) Name() string { return "fcm" }

func (p *FCMProvider) Send(ctx context.Context, tokens []string, n Notification) ([]string, error) {
	var failed []string
	for start := 0; start < len(tokens); start += fcmBatchSize {
		end := start + fcmBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		resp, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: n.Title,
				Body:  n.Body,
			},
			Data: n.Data,
		})
		if err != nil {
			return nil, errs.ErrProviderFailure.WrapMsg("fcm multicast", "err", err)
		}
		for i, r := range resp.Responses {
			if !r.Success {
				failed = append(failed, batch[i])
			}
		}
	}
	return failed, nil
}
