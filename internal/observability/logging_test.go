package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsAccumulate(t *testing.T) {
	ctx := WithBuildID(context.Background(), "b1")
	ctx = WithStage(ctx, "transform")
	ctx = WithIteration(ctx, 2)
	child := WithPlugin(ctx, "transformer-sharp")

	assert.Equal(t, Fields{BuildID: "b1", Stage: "transform", Iteration: 2}, FromContext(ctx))
	assert.Equal(t, "transformer-sharp", FromContext(child).Plugin)
	assert.Empty(t, FromContext(context.Background()).Attrs())
}

func TestHandlerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Wrap(slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := WithStage(WithBuildID(context.Background(), "b42"), "assemble")
	logger.With("component", "writer").InfoContext(ctx, "Writing output", slog.Int("files", 3))

	out := buf.String()
	for _, want := range []string{"build_id=b42", "stage=assemble", "files=3", "component=writer", `msg="Writing output"`} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "iteration=")
}

func TestWrapIsIdempotent(t *testing.T) {
	logger := Wrap(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Same(t, logger, Wrap(logger))
	assert.NotNil(t, Wrap(nil))
}
