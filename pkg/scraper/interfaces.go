package scraper

import (
	"context"

	"igcollector/pkg/login"
)

// Authenticator hands out authenticated sessions and reacts to their
// failures
type Authenticator interface {
	NewBudget() *login.Budget
	Authenticate(ctx context.Context, budget *login.Budget) (*login.Session, error)
	HandleFailure(ctx context.Context, budget *login.Budget, s *login.Session, failure error) error
}
