package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/taskilo/api/internal/domain"
	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/repositories"
)

const draftCollection = "temporaryJobDrafts"

// DraftRepository persists temporary job drafts.
type DraftRepository struct {
	base     *pfirestore.Collection[draftDocument]
	provider *pfirestore.Provider
}

var _ repositories.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository constructs a Firestore-backed draft repository.
func NewDraftRepository(provider *pfirestore.Provider) (*DraftRepository, error) {
	if provider == nil {
		return nil, errors.New("draft repository requires firestore provider")
	}
	base := pfirestore.NewCollection[draftDocument](provider, draftCollection, nil)
	return &DraftRepository{base: base, provider: provider}, nil
}

// Insert creates the draft document. Existing ids are rejected as conflicts.
func (r *DraftRepository) Insert(ctx context.Context, draft domain.DraftRecord) error {
	if r == nil || r.base == nil {
		return errors.New("draft repository not initialised")
	}
	if strings.TrimSpace(draft.ID) == "" {
		return errors.New("draft id is required")
	}
	ref, err := r.base.Ref(ctx, draft.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainDraft(draft)); err != nil {
		return pfirestore.WrapError("temporaryJobDrafts.insert", err)
	}
	return nil
}

// FindByID loads the draft by id.
func (r *DraftRepository) FindByID(ctx context.Context, draftID string) (domain.DraftRecord, error) {
	if r == nil || r.base == nil {
		return domain.DraftRecord{}, errors.New("draft repository not initialised")
	}
	doc, err := r.base.Get(ctx, draftID)
	if err != nil {
		return domain.DraftRecord{}, err
	}
	draft := toDomainDraft(doc.Data)
	draft.ID = doc.ID
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = doc.CreateTime
	}
	return draft, nil
}

// AttachPaymentIntent stores the intent id on the draft.
func (r *DraftRepository) AttachPaymentIntent(ctx context.Context, draftID string, intentID string, at time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("draft repository not initialised")
	}
	_, err := r.base.Update(ctx, draftID, []firestore.Update{
		{Path: "paymentIntentId", Value: strings.TrimSpace(intentID)},
		{Path: "updatedAt", Value: at.UTC()},
	}, firestore.Exists)
	return err
}

// TransitionStatus moves a pending draft to status inside a transaction.
func (r *DraftRepository) TransitionStatus(ctx context.Context, draftID string, next domain.DraftStatus, intentID string, at time.Time) (domain.DraftRecord, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.DraftRecord{}, errors.New("draft repository not initialised")
	}

	var (
		result domain.DraftRecord
		final  bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		final = false
		ref, err := r.base.Ref(ctx, draftID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc draftDocument
		if err := snap.DataTo(&doc); err != nil {
			return status.Errorf(codes.DataLoss, "decode draft: %v", err)
		}
		result = toDomainDraft(doc)
		result.ID = snap.Ref.ID
		if result.Status != domain.DraftStatusPending {
			final = true
			return nil
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: "updatedAt", Value: at.UTC()},
		}
		if trimmed := strings.TrimSpace(intentID); trimmed != "" {
			updates = append(updates, firestore.Update{Path: "paymentIntentId", Value: trimmed})
			result.PaymentIntentID = trimmed
		}
		result.Status = next
		result.UpdatedAt = at.UTC()
		return tx.Update(ref, updates)
	})
	if err != nil {
		return domain.DraftRecord{}, pfirestore.WrapError("temporaryJobDrafts.transition", err)
	}
	if final {
		return result, repositories.ErrDraftStatusFinal
	}
	return result, nil
}

// ListExpired returns pending drafts that expired before cutoff, oldest first.
func (r *DraftRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("draft repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.DraftStatusPending)).
			Where("expiresAt", "<", cutoff.UTC()).
			OrderBy("expiresAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// DeleteMany removes the given drafts.
func (r *DraftRepository) DeleteMany(ctx context.Context, draftIDs []string) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("draft repository not initialised")
	}
	return r.base.DeleteAll(ctx, draftIDs)
}

type draftDocument struct {
	KundeID                 string    `firestore:"kundeId"`
	CustomerType            string    `firestore:"customerType"`
	SelectedCategory        string    `firestore:"selectedCategory"`
	SelectedSubcategory     string    `firestore:"selectedSubcategory"`
	Description             string    `firestore:"description"`
	JobStreet               string    `firestore:"jobStreet,omitempty"`
	JobPostalCode           string    `firestore:"jobPostalCode"`
	JobCity                 string    `firestore:"jobCity,omitempty"`
	JobCountry              string    `firestore:"jobCountry,omitempty"`
	JobDateFrom             string    `firestore:"jobDateFrom"`
	JobDateTo               string    `firestore:"jobDateTo,omitempty"`
	JobTimePreference       string    `firestore:"jobTimePreference"`
	SelectedAnbieterID      string    `firestore:"selectedAnbieterId"`
	JobDurationString       string    `firestore:"jobDurationString,omitempty"`
	JobTotalCalculatedHours float64   `firestore:"jobTotalCalculatedHours"`
	TotalPriceInCents       int64     `firestore:"jobCalculatedPriceInCents"`
	AnbieterStripeAccountID string    `firestore:"anbieterStripeAccountId"`
	Status                  string    `firestore:"status"`
	PaymentIntentID         string    `firestore:"paymentIntentId,omitempty"`
	CreatedAt               time.Time `firestore:"createdAt"`
	UpdatedAt               time.Time `firestore:"updatedAt"`
	ExpiresAt               time.Time `firestore:"expiresAt"`
}

func fromDomainDraft(draft domain.DraftRecord) draftDocument {
	in := draft.Input
	return draftDocument{
		KundeID:                 strings.TrimSpace(draft.OwnerUID),
		CustomerType:            string(in.CustomerType),
		SelectedCategory:        strings.TrimSpace(in.Category),
		SelectedSubcategory:     strings.TrimSpace(in.Subcategory),
		Description:             in.Description,
		JobStreet:               strings.TrimSpace(in.JobStreet),
		JobPostalCode:           strings.TrimSpace(in.JobPostalCode),
		JobCity:                 strings.TrimSpace(in.JobCity),
		JobCountry:              strings.TrimSpace(in.JobCountry),
		JobDateFrom:             strings.TrimSpace(in.DateFrom),
		JobDateTo:               strings.TrimSpace(in.DateTo),
		JobTimePreference:       strings.TrimSpace(in.TimePreference),
		SelectedAnbieterID:      strings.TrimSpace(in.ProviderID),
		JobDurationString:       strings.TrimSpace(in.DurationString),
		JobTotalCalculatedHours: in.TotalHours,
		TotalPriceInCents:       in.PriceInCents,
		AnbieterStripeAccountID: strings.TrimSpace(draft.ProviderPayoutID),
		Status:                  string(draft.Status),
		PaymentIntentID:         strings.TrimSpace(draft.PaymentIntentID),
		CreatedAt:               draft.CreatedAt.UTC(),
		UpdatedAt:               draft.UpdatedAt.UTC(),
		ExpiresAt:               draft.ExpiresAt.UTC(),
	}
}

func toDomainDraft(doc draftDocument) domain.DraftRecord {
	return domain.DraftRecord{
		OwnerUID: doc.KundeID,
		Input: domain.BookingInput{
			CustomerType:   domain.CustomerType(doc.CustomerType),
			Category:       doc.SelectedCategory,
			Subcategory:    doc.SelectedSubcategory,
			Description:    doc.Description,
			JobStreet:      doc.JobStreet,
			JobPostalCode:  doc.JobPostalCode,
			JobCity:        doc.JobCity,
			JobCountry:     doc.JobCountry,
			DateFrom:       doc.JobDateFrom,
			DateTo:         doc.JobDateTo,
			TimePreference: doc.JobTimePreference,
			ProviderID:     doc.SelectedAnbieterID,
			DurationString: doc.JobDurationString,
			TotalHours:     doc.JobTotalCalculatedHours,
			PriceInCents:   doc.TotalPriceInCents,
		},
		ProviderPayoutID: doc.AnbieterStripeAccountID,
		Status:           domain.DraftStatus(doc.Status),
		PaymentIntentID:  doc.PaymentIntentID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		ExpiresAt:        doc.ExpiresAt,
	}
}
