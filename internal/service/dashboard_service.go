package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linguaops/lingua-ops-api/internal/models"
	"github.com/linguaops/lingua-ops-api/internal/money"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type dashboardStudentRepository interface {
	CountByChurnRisk(ctx context.Context) ([]models.RiskCount, error)
	CountByPaymentStatus(ctx context.Context) ([]models.PaymentStatusCount, error)
	OutstandingByCurrency(ctx context.Context) ([]models.CurrencyBalance, error)
	AtRisk(ctx context.Context, limit int) ([]models.Student, error)
	AverageAttendanceRate(ctx context.Context) (float64, error)
}

// RetentionOverview is the ops dashboard payload. Amounts are rounded here,
// at the report boundary; stored ledger state stays unrounded.
type RetentionOverview struct {
	RiskCounts            []models.RiskCount          `json:"risk_counts"`
	PaymentStatusCounts   []models.PaymentStatusCount `json:"payment_status_counts"`
	OutstandingByCurrency []models.CurrencyBalance    `json:"outstanding_by_currency"`
	OutstandingEur        decimal.Decimal             `json:"outstanding_eur"`
	AverageAttendanceRate float64                     `json:"average_attendance_rate"`
	AtRisk                []models.Student            `json:"at_risk"`
	GeneratedAt           time.Time                   `json:"generated_at"`
}

// DashboardService aggregates retention and ledger state for reporting.
type DashboardService struct {
	students    dashboardStudentRepository
	converter   *money.Converter
	cache       *CacheService
	logger      *zap.Logger
	cacheTTL    time.Duration
	atRiskLimit int
	now         func() time.Time
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Students    dashboardStudentRepository
	Converter   *money.Converter
	Cache       *CacheService
	Logger      *zap.Logger
	CacheTTL    time.Duration
	AtRiskLimit int
	Now         func() time.Time
}

// NewDashboardService constructs DashboardService.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.CacheTTL <= 0 {
		params.CacheTTL = 5 * time.Minute
	}
	if params.AtRiskLimit <= 0 {
		params.AtRiskLimit = 10
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &DashboardService{
		students:    params.Students,
		converter:   params.Converter,
		cache:       params.Cache,
		logger:      params.Logger,
		cacheTTL:    params.CacheTTL,
		atRiskLimit: params.AtRiskLimit,
		now:         params.Now,
	}
}

// Overview builds the retention dashboard, served from cache when fresh.
func (s *DashboardService) Overview(ctx context.Context) (*RetentionOverview, error) {
	const cacheKey = "retention:dashboard"
	var cached RetentionOverview
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	riskCounts, err := s.students.CountByChurnRisk(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count churn risk")
	}
	statusCounts, err := s.students.CountByPaymentStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count payment status")
	}
	outstanding, err := s.students.OutstandingByCurrency(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum outstanding balances")
	}
	avgRate, err := s.students.AverageAttendanceRate(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to average attendance")
	}
	atRisk, err := s.students.AtRisk(ctx, s.atRiskLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list at-risk students")
	}

	totalEur := decimal.Zero
	for i, balance := range outstanding {
		eur, err := s.converter.ToEur(balance.Total, balance.Currency)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to convert outstanding balance")
		}
		totalEur = totalEur.Add(eur)
		outstanding[i].Total = money.RoundAmount(balance.Total)
	}

	overview := &RetentionOverview{
		RiskCounts:            riskCounts,
		PaymentStatusCounts:   statusCounts,
		OutstandingByCurrency: outstanding,
		OutstandingEur:        money.RoundAmount(totalEur),
		AverageAttendanceRate: money.RoundPercent(avgRate),
		AtRisk:                atRisk,
		GeneratedAt:           s.now(),
	}

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, overview, s.cacheTTL)
	}
	return overview, nil
}
