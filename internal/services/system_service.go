package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/repositories"
)

const checkoutHealthCheck = "checkout"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// CheckoutCapabilities describes which parts of the checkout flow this process can serve.
type CheckoutCapabilities struct {
	Payments       bool
	Functions      bool
	ActiveSessions func() int
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Checkout         CheckoutCapabilities
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	checkout   CheckoutCapabilities
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		healthRepo: deps.HealthRepository,
		checkout:   deps.Checkout,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
	}, nil
}

// HealthReport merges the dependency probes with the checkout capability check. The
// overall status is the worst of the repository status and every individual check.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	checks[checkoutHealthCheck] = s.checkoutCheck(now)
	report.Checks = checks

	status := strings.TrimSpace(report.Status)
	for _, check := range checks {
		status = worseStatus(status, check.Status)
	}
	if status == "" {
		status = domain.HealthStatusOK
	}
	report.Status = status
	return report, nil
}

func (s *systemService) checkoutCheck(now time.Time) domain.SystemHealthCheck {
	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, CheckedAt: now}
	switch {
	case !s.checkout.Functions:
		check.Status = domain.HealthStatusDegraded
		check.Error = "backend functions client not configured"
	case !s.checkout.Payments:
		check.Status = domain.HealthStatusDegraded
		check.Error = "payment gateway not configured"
	}
	if s.checkout.ActiveSessions != nil {
		check.Detail = fmt.Sprintf("%d active sessions", s.checkout.ActiveSessions())
	}
	return check
}

func statusRank(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

func worseStatus(current, candidate string) string {
	if current == "" || statusRank(candidate) > statusRank(current) {
		if candidate == "" {
			return current
		}
		return candidate
	}
	return current
}
