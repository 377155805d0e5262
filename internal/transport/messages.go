package transport

import (
	"context"

	"github.com/fbettag/apsteer/internal/report"
	"github.com/sirupsen/logrus"
)

func PublishSnapshot(ctx context.Context, bus Bus, s report.Snapshot) error {
	data, err := report.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, SubjectStatistics, data)
}

func PublishDecision(ctx context.Context, bus Bus, d report.Decision) error {
	data, err := report.EncodeDecision(d)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, SubjectMigrations, data)
}

// SubscribeSnapshots decodes every statistics message and passes it to fn.
// Malformed payloads are logged and skipped.
func SubscribeSnapshots(ctx context.Context, bus Bus, logger *logrus.Logger, fn func(report.Snapshot)) error {
	return bus.Subscribe(ctx, SubjectStatistics, func(data []byte) {
		s, err := report.DecodeSnapshot(data)
		if err != nil {
			logger.Warnf("Dropping statistics message: %v", err)
			return
		}
		fn(s)
	})
}

// SubscribeDecisions decodes every migration message and passes it to fn.
func SubscribeDecisions(ctx context.Context, bus Bus, logger *logrus.Logger, fn func(report.Decision)) error {
	return bus.Subscribe(ctx, SubjectMigrations, func(data []byte) {
		d, err := report.DecodeDecision(data)
		if err != nil {
			logger.Warnf("Dropping migration message: %v", err)
			return
		}
		fn(d)
	})
}
