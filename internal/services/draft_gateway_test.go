package services

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestValidateBookingInput(t *testing.T) {
	if err := ValidateBookingInput(completeBookingInput()); err != nil {
		t.Fatalf("expected complete input to pass, got %v", err)
	}

	input := completeBookingInput()
	input.Description = " "
	input.JobPostalCode = ""
	input.PriceInCents = 0
	err := ValidateBookingInput(input)
	if !errors.Is(err, ErrBookingRequiredFieldMissing) {
		t.Fatalf("expected ErrBookingRequiredFieldMissing, got %v", err)
	}
	var fields *RequiredFieldsError
	if !errors.As(err, &fields) || len(fields.Fields) != 3 {
		t.Fatalf("expected three missing fields, got %v", err)
	}
}

func TestDraftGateway_SharesInFlightCreation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	drafts := &stubDraftFunctions{fn: func(ctx context.Context, _ Caller, _ BookingInput) (Draft, error) {
		started <- struct{}{}
		<-release
		return Draft{ID: "draft_1", ProviderPayoutID: "acct_provider"}, nil
	}}
	gateway, err := NewDraftGateway(DraftGatewayDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftGateway error: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]Draft, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = gateway.Create(ctx, signedInCaller(), completeBookingInput())
	}()
	<-started
	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = gateway.Create(ctx, signedInCaller(), completeBookingInput())
		}(i)
	}
	close(release)
	wg.Wait()

	if drafts.calls.Load() != 1 {
		t.Fatalf("expected one remote draft creation, got %d", drafts.calls.Load())
	}
	for i, draft := range results {
		if draft.ID != "draft_1" {
			t.Fatalf("result %d: expected shared draft, got %+v", i, draft)
		}
	}

	if _, err := gateway.Create(ctx, signedInCaller(), completeBookingInput()); err != nil {
		t.Fatalf("cached Create error: %v", err)
	}
	if drafts.calls.Load() != 1 {
		t.Fatalf("expected cached draft, got %d calls", drafts.calls.Load())
	}

	gateway.Invalidate()
	if _, ok := gateway.Current(); ok {
		t.Fatalf("expected invalidate to drop the draft")
	}
}

func TestDraftGateway_FailuresAreNotRetried(t *testing.T) {
	drafts := &stubDraftFunctions{fn: func(context.Context, Caller, BookingInput) (Draft, error) {
		return Draft{}, errors.New("deadline exceeded")
	}}
	gateway, err := NewDraftGateway(DraftGatewayDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftGateway error: %v", err)
	}
	if _, err := gateway.Create(context.Background(), signedInCaller(), completeBookingInput()); err == nil {
		t.Fatalf("expected error")
	}
	if drafts.calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", drafts.calls.Load())
	}
}

func TestDraftGateway_MissingPayoutIsTerminal(t *testing.T) {
	drafts := &stubDraftFunctions{fn: func(context.Context, Caller, BookingInput) (Draft, error) {
		return Draft{ID: "draft_1"}, nil
	}}
	gateway, err := NewDraftGateway(DraftGatewayDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftGateway error: %v", err)
	}
	if _, err := gateway.Create(context.Background(), signedInCaller(), completeBookingInput()); !errors.Is(err, ErrProviderNotPayable) {
		t.Fatalf("expected ErrProviderNotPayable, got %v", err)
	}
}

func TestDraftGateway_RejectsIncompleteInput(t *testing.T) {
	drafts := &stubDraftFunctions{}
	gateway, err := NewDraftGateway(DraftGatewayDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftGateway error: %v", err)
	}
	input := completeBookingInput()
	input.ProviderID = ""
	if _, err := gateway.Create(context.Background(), signedInCaller(), input); !errors.Is(err, ErrBookingRequiredFieldMissing) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if drafts.calls.Load() != 0 {
		t.Fatalf("expected no remote call for incomplete input")
	}
}
