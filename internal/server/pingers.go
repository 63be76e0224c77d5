package server

import (
	"context"
	"fmt"

	"github.com/54b3r/docrag-go/internal/provider"
)

// LLMPinger probes a chat backend through its zero-cost model listing
// endpoint. It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck performs the backend-specific probe.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given health check and backend name.
func NewLLMPinger(hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// nativePinger is implemented by vector store backends with their own
// health RPC, such as rag.QdrantBackend.
type nativePinger interface {
	Ping(ctx context.Context) error
}

// StorePinger probes the vector store. Backends with a native health RPC are
// pinged directly; the rest are probed by listing collections.
type StorePinger struct {
	// native is set when the backend exposes its own health RPC.
	native nativePinger
	// catalog lists collections when native is nil.
	catalog catalog
	// name identifies the backend in readiness responses (e.g. "qdrant").
	name string
}

// NewStorePinger constructs a StorePinger. backend may be any value; it is
// used for the native probe when it implements Ping.
func NewStorePinger(name string, backend any, c catalog) *StorePinger {
	p := &StorePinger{catalog: c, name: name}
	if np, ok := backend.(nativePinger); ok {
		p.native = np
	}
	return p
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping checks that the vector store answers.
func (p *StorePinger) Ping(ctx context.Context) error {
	if p.native != nil {
		if err := p.native.Ping(ctx); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return nil
	}
	if _, err := p.catalog.List(ctx); err != nil {
		return fmt.Errorf("list collections failed: %w", err)
	}
	return nil
}
