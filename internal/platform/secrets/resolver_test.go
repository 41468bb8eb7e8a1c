package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err := f.errs[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/storefront-token/versions/latest"
	client.values[resource] = "remote-token"

	resolver, err := NewResolver(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://storefront-token")
		if err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
		if got != "remote-token" {
			t.Fatalf("expected remote-token, got %q", got)
		}
	}
	if calls := client.calls[resource]; calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/storefront-token/versions/3"] = "pinned"

	resolver, err := NewResolver(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	got, err := resolver.ResolveSecret(ctx, "secret://storefront-token?version=3&project=other")
	if err != nil || got != "pinned" {
		t.Fatalf("expected pinned, got %q (%v)", got, err)
	}
}

func TestResolveFallsBackWhenDenied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# local\nsm://storefront-token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/storefront-token/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx, withClient(client), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	got, err := resolver.ResolveSecret(ctx, "secret://storefront-token")
	if err != nil || got != "local-token" {
		t.Fatalf("expected local-token, got %q (%v)", got, err)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://storefront-token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	resolver, err := NewResolver(ctx, withClient(newFakeSecretClient()), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	if _, err := resolver.ResolveSecret(ctx, "secret://storefront-token"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://storefront-token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	resolver, err := NewResolver(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	got, err := resolver.ResolveSecret(ctx, "secret://storefront-token")
	if err != nil || got != "local-token" {
		t.Fatalf("expected local-token, got %q (%v)", got, err)
	}
	if _, err := resolver.ResolveSecret(ctx, "https://example.com"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
