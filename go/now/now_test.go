package now

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_NoValueInContext_WallClock(t *testing.T) {
	before := time.Now()
	actual := Now(context.Background())
	after := time.Now()
	assert.False(t, actual.Before(before))
	assert.False(t, actual.After(after))
}

func TestNow_TimeInContext_ReturnsThatTime(t *testing.T) {
	mockTime := time.Unix(1234567890, 0).UTC()
	ctx := context.WithValue(context.Background(), ContextKey, mockTime)
	assert.Equal(t, mockTime, Now(ctx))
}

func TestNow_ProviderInContext_EvaluatedEachCall(t *testing.T) {
	var tick int64
	provider := NowProvider(func() time.Time {
		tick++
		return time.Unix(tick, 0).UTC()
	})
	ctx := context.WithValue(context.Background(), ContextKey, provider)
	assert.Equal(t, time.Unix(1, 0).UTC(), Now(ctx))
	assert.Equal(t, time.Unix(2, 0).UTC(), Now(ctx))
}
