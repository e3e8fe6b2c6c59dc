package notify

import (
	"context"

	"consultchat/logger"
	"consultchat/module/chat/model"
)

// DeviceRepo is the slice of the device store the dispatcher needs.
type DeviceRepo interface {
	ActiveDevices(ctx context.Context, userID string) ([]model.UserDevice, error)
	Deactivate(ctx context.Context, registrationIDs []string) (int64, error)
}

// Dispatcher fans one notification out to all of a user's active devices,
// routing each registration to its provider, and prunes tokens the providers
// report dead. A provider outage marks that provider's whole batch failed
// and the tokens are deactivated; re-registration on next app start revives
// them.
type Dispatcher struct {
	devices DeviceRepo
	fcm     Provider
	apns    Provider
}

// NewDispatcher accepts nil providers; registrations without a configured
// provider are skipped.
func NewDispatcher(devices DeviceRepo, fcm, apns Provider) *Dispatcher {
	return &Dispatcher{devices: devices, fcm: fcm, apns: apns}
}

// Result summarizes one dispatch.
type Result struct {
	Sent        int
	Failed      int
	Deactivated int64
}

// Notify pushes to every active device of userID. Zero devices is a
// successful no-op. Best-effort: per-provider failures are absorbed into the
// result, never returned as an error.
func (d *Dispatcher) Notify(ctx context.Context, userID string, n Notification) (Result, error) {
	devices, err := d.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if len(devices) == 0 {
		return Result{}, nil
	}

	var fcmTokens, apnsTokens []string
	for _, dev := range devices {
		if dev.RegistrationID == "" {
			continue
		}
		switch dev.Type {
		case model.DeviceTypeFCM, model.DeviceTypeWeb:
			fcmTokens = append(fcmTokens, dev.RegistrationID)
		case model.DeviceTypeAPNS:
			apnsTokens = append(apnsTokens, dev.RegistrationID)
		}
	}

	var res Result
	var dead []string
	dead = append(dead, d.sendBatch(ctx, d.fcm, fcmTokens, n, &res)...)
	dead = append(dead, d.sendBatch(ctx, d.apns, apnsTokens, n, &res)...)

	if len(dead) > 0 {
		count, err := d.devices.Deactivate(ctx, dead)
		if err != nil {
			logger.Errorf("[notify] deactivate failed user=%s err=%v", userID, err)
		} else {
			res.Deactivated = count
		}
	}
	return res, nil
}

func (d *Dispatcher) sendBatch(ctx context.Context, p Provider, tokens []string, n Notification, res *Result) []string {
	if p == nil || len(tokens) == 0 {
		return nil
	}
	failed, err := p.Send(ctx, tokens, n)
	if err != nil {
		logger.Errorf("[notify] provider %s failed, dropping %d tokens err=%v", p.Name(), len(tokens), err)
		res.Failed += len(tokens)
		return tokens
	}
	res.Failed += len(failed)
	res.Sent += len(tokens) - len(failed)
	return failed
}
