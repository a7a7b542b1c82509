package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitRequiresService(t *testing.T) {
	if _, err := Init(context.Background(), Options{}); !errors.Is(err, ErrNoService) {
		t.Fatalf("err = %v, want ErrNoService", err)
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Options{Service: "pqa-test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	_, span := otel.Tracer("test").Start(ctx, "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a valid span context from the sdk provider")
	}
}
