package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedReturnsUTC(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 6, 1, 15, 0, 0, 0, time.FixedZone("EEST", 3*60*60))
	got := Fixed(at).Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(at))
}

func TestSystemNowIsUTCAtStorePrecision(t *testing.T) {
	t.Parallel()

	var c Clock = System{}
	before := time.Now().UTC().Truncate(Precision)
	got := c.Now()
	after := time.Now().UTC()

	assert.Equal(t, time.UTC, got.Location())
	assert.Zero(t, got.Nanosecond()%int(Precision))
	assert.False(t, got.Before(before), "%v before %v", got, before)
	assert.False(t, got.After(after), "%v after %v", got, after)
}
