package cloudshell

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// API is the platform session used by the driver.
type API interface {
	// ResourcesFromReservation lists the reservation resources of a model.
	ResourcesFromReservation(ctx context.Context, rcc ResourceCommandContext, model string) ([]Resource, error)
	FamilyAttribute(ctx context.Context, rcc ResourceCommandContext, resource, attribute string) (string, error)
	SetFamilyAttribute(ctx context.Context, rcc ResourceCommandContext, resource, attribute, value string) error
	// AttachFile stores data under name against the reservation.
	AttachFile(ctx context.Context, rcc ResourceCommandContext, name string, data []byte) error
}

// KeepAliver arranges for the platform to call keep_alive on the service
// periodically.
type KeepAliver interface {
	EnqueueKeepAlive(ctx context.Context, rcc ResourceCommandContext) error
}

// StatsFileName is the artifact name of a CSV statistics view.
func StatsFileName(view string) string {
	return fmt.Sprintf("%s_statistics.csv", view)
}

// AttachStatsCSV attaches a rendered CSV view to the reservation.
func AttachStatsCSV(ctx context.Context, api API, rcc ResourceCommandContext, logger *zap.Logger, view, csv string) error {
	name := StatsFileName(view)
	if err := api.AttachFile(ctx, rcc, name, []byte(csv)); err != nil {
		return errors.Wrapf(err, "failed to attach %s", name)
	}
	logger.Debug("statistics attached",
		zap.String("reservation", rcc.ReservationID), zap.String("file", name), zap.Int("size", len(csv)))
	return nil
}
