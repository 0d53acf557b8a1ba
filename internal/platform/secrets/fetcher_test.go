package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeKeyResource = "projects/test/secrets/stripe_api_key/versions/latest"

func TestResolveCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	client := newFakeSecretClient()
	client.values[stripeKeyResource] = "sk_test_1"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil || got != "sk_test_1" {
			t.Fatalf("Resolve #%d = %q, %v", i, got, err)
		}
	}
	if calls := client.callCount(stripeKeyResource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}

	client.values[stripeKeyResource] = "sk_test_rotated"
	now = now.Add(2 * time.Minute)
	got, err := fetcher.Resolve(ctx, "sm://stripe_api_key")
	if err != nil || got != "sk_test_rotated" {
		t.Fatalf("expected rotated key after ttl, got %q (%v)", got, err)
	}
}

func TestResolveVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/stripe_webhook/versions/3"] = "whsec_3"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://stripe_webhook?version=3&project=other")
	if err != nil || got != "whsec_3" {
		t.Fatalf("expected pinned version, got %q (%v)", got, err)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	client := newFakeSecretClient()
	client.errors[stripeKeyResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithEnvironment("local"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil || got != "sk_local" {
		t.Fatalf("expected fallback value, got %q (%v)", got, err)
	}
}

func TestResolveNeverFallsBackInProduction(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	client := newFakeSecretClient()
	client.errors[stripeKeyResource] = status.Error(codes.Unavailable, "down")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithEnvironment("prod"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err == nil {
		t.Fatalf("expected error in production")
	}
}

func TestResolveNotFoundDoesNotFallBack(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(newFakeSecretClient()),
		WithProject("test"),
		WithEnvironment("local"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fallbackPath := writeFallbackFile(t, "# local keys\nsecret://stripe_api_key?version=2=sk_v2\nsecret://stripe_api_key=sk_latest\n")
	fetcher, err := NewFetcher(ctx, WithEnvironment("local"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if got, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil || got != "sk_latest" {
		t.Fatalf("expected latest local value, got %q (%v)", got, err)
	}
	if got, err := fetcher.Resolve(ctx, "secret://stripe_api_key?version=2"); err != nil || got != "sk_v2" {
		t.Fatalf("expected versioned local value, got %q (%v)", got, err)
	}
}

func TestParseReferenceRejectsInvalid(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

func writeFallbackFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
