package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type jobInfo struct {
	ID string
}

func TestGetReturnsDefaultForMissingKey(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "fallback", Get(ctx, "missing", "fallback"))
	assert.Equal(t, 0, Get(ctx, "missing", 0))
	assert.Nil(t, Get[*jobInfo](ctx, "missing", nil))

	var nilCtx context.Context
	assert.Equal(t, "x", Get(nilCtx, "missing", "x"))
}

func TestGetReturnsDefaultForWrongType(t *testing.T) {
	ctx := Set(context.Background(), "claim.id", "CLM-1")

	assert.Equal(t, 7, Get(ctx, "claim.id", 7))
	assert.Equal(t, "CLM-1", Get(ctx, "claim.id", ""))
}

func TestSetIsCopyOnWrite(t *testing.T) {
	parent := Set(context.Background(), "a", "1")
	child := Set(parent, "b", "2")

	assert.Equal(t, "", Get(parent, "b", ""))
	assert.Equal(t, "1", Get(child, "a", ""))
	assert.Equal(t, "2", Get(child, "b", ""))
	assert.Equal(t, []string{"a", "b"}, Keys(child))
	assert.Equal(t, []string{"a"}, Keys(parent))
}

func TestRemoveAndClear(t *testing.T) {
	ctx := Set(context.Background(), "a", "1")
	ctx = Set(ctx, "b", 2)

	removed, ok := Remove(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "none", Get(removed, "a", "none"))
	assert.Equal(t, 2, Get(removed, "b", 0))
	assert.Equal(t, "1", Get(ctx, "a", ""))

	_, ok = Remove(removed, "a")
	assert.False(t, ok)

	_, ok = Remove(context.Background(), "a")
	assert.False(t, ok)

	cleared := Clear(ctx)
	assert.Empty(t, Keys(cleared))
	assert.Nil(t, ScopeProperties(cleared))
}

func TestScalarValuesMirrorIntoScopeAndSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "unit")
	ctx = Set(ctx, "claim.id", "CLM-9")
	ctx = Set(ctx, "attempt", 3)
	ctx = Set(ctx, "job", &jobInfo{ID: "j-1"})
	span.End()

	scope := ScopeProperties(ctx)
	assert.Equal(t, "CLM-9", scope["claim.id"])
	assert.Equal(t, 3, scope["attempt"])
	assert.NotContains(t, scope, "job")
	assert.Equal(t, "j-1", Get[*jobInfo](ctx, "job", nil).ID)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Attributes(), attribute.String("claim.id", "CLM-9"))
	assert.Contains(t, ended[0].Attributes(), attribute.Int("attempt", 3))
}

func TestOverwritingScalarWithObjectDropsScopeEntry(t *testing.T) {
	ctx := Set(context.Background(), "k", "v")
	ctx = Set(ctx, "k", &jobInfo{})

	assert.NotContains(t, ScopeProperties(ctx), "k")
}

func TestScopeReleasesKey(t *testing.T) {
	base := Set(context.Background(), "service", "claim")

	scoped, release := Scope(base, "duration", 1500*time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, Get(scoped, "duration", time.Duration(0)))
	assert.Equal(t, 1500*time.Millisecond, ScopeProperties(scoped)["duration"])

	after := release()
	_, ok := Lookup(after, "duration")
	assert.False(t, ok)
	assert.Equal(t, "claim", Get(after, "service", ""))
}

func TestConcurrentChainsAreIsolated(t *testing.T) {
	root := Set(context.Background(), "shared", "root")

	var wg sync.WaitGroup

	errs := make(chan error, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			own := fmt.Sprintf("chain-%d", i)
			ctx := Set(root, "chain", own)

			time.Sleep(time.Millisecond)

			if got := Get(ctx, "chain", ""); got != own {
				errs <- fmt.Errorf("chain %d observed %q", i, got)
			}

			if got := Get(root, "chain", "unset"); got != "unset" {
				errs <- fmt.Errorf("root observed %q", got)
			}

			if got := Get(ctx, "never-written", "default"); got != "default" {
				errs <- fmt.Errorf("unexpected value %q", got)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
