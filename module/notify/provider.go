package notify

import "context"

// Notification is the provider-independent push payload.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Provider delivers one notification to a batch of device tokens and reports
// the tokens that are dead (unregistered, invalid). A non-nil error means the
// provider itself failed and nothing was delivered; the dispatcher then
// treats the whole batch as failed.
type Provider interface {
	Name() string
	Send(ctx context.Context, tokens []string, n Notification) (failed []string, err error)
}
