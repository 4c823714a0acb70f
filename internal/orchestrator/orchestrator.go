package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/services"
)

// Orchestrator coordinates multiple services to process bus notifications
type Orchestrator struct {
	services []services.Service
}

// New creates a new Orchestrator with the given services
func New(services []services.Service) *Orchestrator {
	return &Orchestrator{
		services: services,
	}
}

// Process runs a notification through all registered services.
// A failing service does not stop the others; their errors are joined.
func (o *Orchestrator) Process(ctx context.Context, n *models.Notification) error {
	slog.Debug("Orchestrator: Processing notification",
		"id", n.ID,
		"subject", n.Subject,
		"services_count", len(o.services),
	)

	var errs []error
	for _, service := range o.services {
		if err := service.Process(ctx, n); err != nil {
			slog.Error("Service processing failed",
				"service", service.Name(),
				"subject", n.Subject,
				"error", err,
			)
			metrics.ErrorsTotal.WithLabelValues(service.Name()).Inc()
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Services returns the list of registered services (for inspection/testing)
func (o *Orchestrator) Services() []services.Service {
	return o.services
}
