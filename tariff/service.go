package tariff

import (
	"context"
	"fmt"
	"net/http"

	resp "github.com/practix/billing/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// Lister reads the active tariff catalog
type Lister interface {
	ListActive(ctx context.Context) ([]Tariff, error)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	TariffManager Lister
	Logger        *zap.Logger
}

// Service is the tariff API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the tariff API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.TariffManager == nil {
		return nil, fmt.Errorf("nil TariffManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) listTariffs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	results, err := s.TariffManager.ListActive(ctx)
	if err != nil {
		s.Logger.Error("Unable to list active tariffs",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of tariffs"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// Router will return the routes under tariff API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listTariffs)

	return r
}
