package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/payments"
	"github.com/taskilo/api/internal/repositories"
)

const (
	defaultServiceFeeBasisPoints = 450
	defaultPaymentCurrency       = "eur"

	// Metadata keys read back by the webhook handler.
	metadataDraftID = "tempJobDraftId"
	metadataUserID  = "firebaseUserId"
)

// PaymentIntentServiceDeps defines the dependencies for payment intent creation.
type PaymentIntentServiceDeps struct {
	Drafts         repositories.DraftRepository
	Payments       PaymentGateway
	Clock          func() time.Time
	FeeBasisPoints int
	Currency       string
	Logger         func(context.Context, string, map[string]any)
}

type paymentIntentService struct {
	drafts   repositories.DraftRepository
	payments PaymentGateway
	clock    func() time.Time
	feeBps   int
	currency string
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentIntentService = (*paymentIntentService)(nil)

// NewPaymentIntentService constructs the service backing /api/create-payment-intent.
func NewPaymentIntentService(deps PaymentIntentServiceDeps) (PaymentIntentService, error) {
	if deps.Drafts == nil {
		return nil, errors.New("payment intent service: draft repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment intent service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	fee := deps.FeeBasisPoints
	if fee <= 0 {
		fee = defaultServiceFeeBasisPoints
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultPaymentCurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentIntentService{
		drafts:   deps.Drafts,
		payments: deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		feeBps:   fee,
		currency: currency,
		logger:   logger,
	}, nil
}

// CreatePaymentIntent checks the request against the stored draft and creates a
// destination charge for the provider's payout account. The buyer pays the listed
// price and the service fee is withheld from the payout.
func (s *paymentIntentService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error) {
	caller := strings.TrimSpace(cmd.CallerUID)
	if caller == "" {
		return PaymentIntentResult{}, ErrAuthenticationRequired
	}
	if uid := strings.TrimSpace(cmd.FirebaseUserID); uid != "" && uid != caller {
		return PaymentIntentResult{}, fmt.Errorf("%w: firebaseUserId does not match caller", ErrDraftForbidden)
	}
	if cmd.Amount <= 0 {
		return PaymentIntentResult{}, fmt.Errorf("%w: amount must be positive", ErrPaymentIntentInvalidInput)
	}
	draftID := strings.TrimSpace(cmd.DraftID)
	account := strings.TrimSpace(cmd.ConnectedAccountID)
	if draftID == "" || account == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: taskId and connectedAccountId are required", ErrPaymentIntentInvalidInput)
	}
	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return PaymentIntentResult{}, fmt.Errorf("%w: unsupported currency %q", ErrPaymentIntentInvalidInput, currency)
	}

	draft, err := s.drafts.FindByID(ctx, draftID)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentIntentResult{}, ErrDraftNotFound
		}
		return PaymentIntentResult{}, fmt.Errorf("payment intent service: load draft: %w", err)
	}
	if draft.OwnerUID != caller {
		return PaymentIntentResult{}, ErrDraftForbidden
	}
	if draft.Status != domain.DraftStatusPending || (!draft.ExpiresAt.IsZero() && !s.clock().Before(draft.ExpiresAt)) {
		return PaymentIntentResult{}, ErrDraftNotFound
	}
	if draft.Input.PriceInCents != cmd.Amount {
		return PaymentIntentResult{}, fmt.Errorf("%w: amount %d, draft price %d", ErrPaymentIntentDraftMismatch, cmd.Amount, draft.Input.PriceInCents)
	}
	if draft.ProviderPayoutID != account {
		return PaymentIntentResult{}, fmt.Errorf("%w: connected account", ErrPaymentIntentDraftMismatch)
	}

	fee := payments.ApplicationFee(cmd.Amount, s.feeBps)
	req := payments.PaymentIntentRequest{
		Amount:               cmd.Amount,
		Currency:             currency,
		CustomerID:           strings.TrimSpace(cmd.StripeCustomerID),
		ConnectedAccountID:   account,
		ApplicationFeeAmount: fee,
		Description:          paymentDescription(draft),
		ReceiptEmail:         strings.TrimSpace(cmd.CustomerEmail),
		BillingName:          strings.TrimSpace(cmd.CustomerName),
		Metadata: map[string]string{
			metadataDraftID: draftID,
			metadataUserID:  caller,
		},
		IdempotencyKey: "pi:" + draftID + ":" + strconv.FormatInt(cmd.Amount, 10),
	}
	if billing := cmd.BillingDetails; billing != nil {
		if name := strings.TrimSpace(billing.Name); name != "" {
			req.BillingName = name
		}
		req.BillingPhone = strings.TrimSpace(billing.Phone)
		req.BillingAddress = &payments.Address{
			Line1:      billing.Line1,
			Line2:      billing.Line2,
			City:       billing.City,
			PostalCode: billing.PostalCode,
			Country:    billing.Country,
		}
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, payments.PaymentContext{Currency: currency}, req)
	if err != nil {
		return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentIntentProviderUnavailable, err)
	}
	if intent.ClientSecret == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: empty client secret", ErrPaymentIntentProviderUnavailable)
	}

	if err := s.drafts.AttachPaymentIntent(ctx, draftID, intent.ID, s.clock()); err != nil {
		s.logger(ctx, "payment_intents.attach_failed", map[string]any{
			"draftId":       draftID,
			"paymentIntent": intent.ID,
			"error":         err.Error(),
		})
	}

	s.logger(ctx, "payment_intents.created", map[string]any{
		"draftId":        draftID,
		"paymentIntent":  intent.ID,
		"amount":         cmd.Amount,
		"applicationFee": fee,
	})

	return PaymentIntentResult{
		PaymentIntentID:      intent.ID,
		ClientSecret:         intent.ClientSecret,
		Amount:               cmd.Amount,
		ApplicationFeeAmount: fee,
		Currency:             currency,
	}, nil
}

func paymentDescription(draft DraftRecord) string {
	label := strings.TrimSpace(draft.Input.Subcategory)
	if label == "" {
		label = strings.TrimSpace(draft.Input.Category)
	}
	if label == "" {
		return "Auftrag " + draft.ID
	}
	return fmt.Sprintf("Auftrag %s (%s)", label, draft.ID)
}
