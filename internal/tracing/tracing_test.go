package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func TestInitDisabledIsNoop(t *testing.T) {
	closer, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, closer(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestResourceAttributes(t *testing.T) {
	res := Resource(Config{ServiceName: "threshold-learner", ServiceVersion: "1.2.3", Environment: "staging"})
	set := res.Set()
	v, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "threshold-learner", v.AsString())
	v, ok = set.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", v.AsString())
	v, ok = set.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	assert.Equal(t, "staging", v.AsString())

	_, ok = Resource(Config{ServiceName: "x"}).Set().Value(semconv.ServiceVersionKey)
	assert.False(t, ok)
}
