package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/repositories"
)

const checkoutContextCollection = "checkoutSessions"

// CheckoutContextRepository stores checkout session context under
// checkoutSessions/{sessionId}.values.
type CheckoutContextRepository struct {
	base  *pfirestore.Collection[checkoutContextDocument]
	clock func() time.Time
}

var _ repositories.CheckoutContextRepository = (*CheckoutContextRepository)(nil)

// NewCheckoutContextRepository constructs the repository.
func NewCheckoutContextRepository(provider *pfirestore.Provider) (*CheckoutContextRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout context repository requires firestore provider")
	}
	base := pfirestore.NewCollection[checkoutContextDocument](provider, checkoutContextCollection, nil)
	return &CheckoutContextRepository{base: base, clock: time.Now}, nil
}

// Load returns the stored values; unknown sessions yield an empty map.
func (r *CheckoutContextRepository) Load(ctx context.Context, sessionID string) (map[string]string, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("checkout context repository not initialised")
	}
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := make(map[string]string, len(doc.Data.Values))
	for k, v := range doc.Data.Values {
		values[k] = v
	}
	return values, nil
}

// Save merges values into the stored context. Empty values delete their key.
func (r *CheckoutContextRepository) Save(ctx context.Context, sessionID string, values map[string]string) error {
	if r == nil || r.base == nil {
		return errors.New("checkout context repository not initialised")
	}
	if len(values) == 0 {
		return nil
	}
	ref, err := r.base.Ref(ctx, sessionID)
	if err != nil {
		return err
	}

	payload := make(map[string]any, len(values))
	paths := make([]firestore.FieldPath, 0, len(values)+1)
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		path := firestore.FieldPath{"values", key}
		paths = append(paths, path)
		if value == "" {
			setNested(payload, key, firestore.Delete)
			continue
		}
		setNested(payload, key, value)
	}
	payload["updatedAt"] = r.clock().UTC()
	paths = append(paths, firestore.FieldPath{"updatedAt"})

	if _, err := ref.Set(ctx, payload, firestore.Merge(paths...)); err != nil {
		return pfirestore.WrapError("checkoutSessions.save", err)
	}
	return nil
}

// Clear deletes the stored context.
func (r *CheckoutContextRepository) Clear(ctx context.Context, sessionID string) error {
	if r == nil || r.base == nil {
		return errors.New("checkout context repository not initialised")
	}
	return r.base.Delete(ctx, sessionID)
}

type checkoutContextDocument struct {
	Values    map[string]string `firestore:"values"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

func setNested(payload map[string]any, key string, value any) {
	values, ok := payload["values"].(map[string]any)
	if !ok {
		values = make(map[string]any)
		payload["values"] = values
	}
	values[key] = value
}
