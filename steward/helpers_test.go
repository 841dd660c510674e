package steward

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "", truncate("", 5))
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestStringPointerValue(t *testing.T) {
	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
	assert.Equal(t, "", stringPointerValue(nil))
}

func TestWithLoggerContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", true)
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Equal(t, logger, got)

	ctx = WithLogger(context.Background(), nil)
	got, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestStructToSlogValue(t *testing.T) {
	type sample struct {
		Name   string `json:"name"`
		Token  string `json:"token" log:"[redacted]"`
		Empty  string `json:"empty"`
		Count  int    `json:"count"`
		hidden string
	}
	v := structToSlogValue(
		&sample{Name: "steward", Token: "secret", Count: 3, hidden: "x"},
	)

	attrs := map[string]string{}
	for _, attr := range v.Group() {
		attrs[attr.Key] = attr.Value.String()
	}
	assert.Equal(t, "steward", attrs["name"])
	assert.Equal(t, "[redacted]", attrs["token"])
	assert.Equal(t, "3", attrs["count"])
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "hidden")

	assert.Equal(t, slog.AnyValue(nil).Kind(), structToSlogValue(nil).Kind())
	var nilPtr *sample
	assert.Equal(t, slog.AnyValue(nil).Kind(), structToSlogValue(nilPtr).Kind())
}
