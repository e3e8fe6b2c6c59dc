package notify

import (
	"context"

	"consultchat/tools/errs"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNSProvider pushes to iOS devices over token-based APNs auth.
type APNSProvider struct {
	client *apns2.Client
	topic  string
}

// NewAPNSProvider loads the .p8 signing key. sandbox selects the development
// gateway.
func NewAPNSProvider(authKeyFile, keyID, teamID, topic string, sandbox bool) (*APNSProvider, error) {
	authKey, err := token.AuthKeyFromFile(authKeyFile)
	if err != nil {
		return nil, errs.ErrProviderFailure.WrapMsg("load apns auth key", "err", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return &APNSProvider{client: client, topic: topic}, nil
}

func (p *APNSProvider) Name() string { return "apns" }

func (p *APNSProvider) Send(ctx context.Context, tokens []string, n Notification) ([]string, error) {
	pl := payload.NewPayload().AlertTitle(n.Title).AlertBody(n.Body).Sound("default")
	for k, v := range n.Data {
		pl = pl.Custom(k, v)
	}

	var failed []string
	for _, t := range tokens {
		resp, err := p.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: t,
			Topic:       p.topic,
			Payload:     pl,
		})
		if err != nil {
			return nil, errs.ErrProviderFailure.WrapMsg("apns push", "err", err)
		}
		if !resp.Sent() {
			failed = append(failed, t)
		}
	}
	return failed, nil
}
