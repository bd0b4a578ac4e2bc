package otelx

import (
	"context"
	"testing"

	"github.com/bakkerme/filepoll/internal/config"
)

func TestInitDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), nil, config.OTelEnvConfig{})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected non-nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}
}

func TestInitRejectsUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), nil, config.OTelEnvConfig{Enabled: true, Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}

func TestEndpointAndProtocolDefaults(t *testing.T) {
	cases := []struct {
		cfg          config.OTelEnvConfig
		wantProtocol string
		wantEndpoint string
	}{
		{config.OTelEnvConfig{}, "grpc", "localhost:4317"},
		{config.OTelEnvConfig{Protocol: "HTTP"}, "http/protobuf", "localhost:4318"},
		{config.OTelEnvConfig{Protocol: "http/protobuf", Endpoint: "https://otel.example.com"}, "http/protobuf", "https://otel.example.com"},
	}
	for _, tc := range cases {
		if got := protocolOrDefault(tc.cfg); got != tc.wantProtocol {
			t.Fatalf("protocolOrDefault(%+v)=%q want %q", tc.cfg, got, tc.wantProtocol)
		}
		if got := endpointOrDefault(tc.cfg); got != tc.wantEndpoint {
			t.Fatalf("endpointOrDefault(%+v)=%q want %q", tc.cfg, got, tc.wantEndpoint)
		}
	}
}

func TestGRPCHost(t *testing.T) {
	got, err := grpcHost("http://collector:4317")
	if err != nil || got != "collector:4317" {
		t.Fatalf("grpcHost scheme strip: got %q, %v", got, err)
	}
	got, err = grpcHost("collector:4317")
	if err != nil || got != "collector:4317" {
		t.Fatalf("grpcHost passthrough: got %q, %v", got, err)
	}
}
