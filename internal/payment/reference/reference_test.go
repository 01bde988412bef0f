package reference

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGeneratorIsUniqueAndOrdered(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	gen := NewULIDGenerator(clk)

	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 500; i++ {
		ref, err := gen.Next(context.Background())
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(ref, "PAY-"))
		_, err = ulid.Parse(strings.TrimPrefix(ref, "PAY-"))
		require.NoError(t, err)
		assert.False(t, seen[ref])
		assert.Greater(t, ref, prev)
		seen[ref] = true
		prev = ref
	}
}

func TestFormatDaily(t *testing.T) {
	day := time.Date(2026, 6, 9, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "TXN-260609-000001", formatDaily(day, 1))
	assert.Equal(t, "TXN-260609-123456", formatDaily(day, 123456))
	assert.Equal(t, "TXN-260609-1234567", formatDaily(day, 1234567))
	assert.Equal(t, "seq:payment:260609", dailyKey(day))
}
