package sms

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentCountGSM7SingleAndMulti(t *testing.T) {
	short := NewMessage("m1", "+1", "+2", strings.Repeat("a", 160), 0)
	assert.Equal(t, EncodingGSM7, short.Encoding)
	assert.Equal(t, 1, short.Segments)

	long := NewMessage("m2", "+1", "+2", strings.Repeat("a", 161), 0)
	assert.Equal(t, 2, long.Segments)

	threeSeg := NewMessage("m3", "+1", "+2", strings.Repeat("a", 153*2+1), 0)
	assert.Equal(t, 3, threeSeg.Segments)
}

func TestSegmentCountUCS2SingleAndMulti(t *testing.T) {
	short := NewMessage("m1", "+1", "+2", strings.Repeat("é", 70), 0)
	assert.Equal(t, EncodingUCS2, short.Encoding)
	assert.Equal(t, 1, short.Segments)

	long := NewMessage("m2", "+1", "+2", strings.Repeat("é", 71), 0)
	assert.Equal(t, 2, long.Segments)
}

func TestConversationKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, ConversationKey("+1", "+2"), ConversationKey("+2", "+1"))
}

func TestIsExpired(t *testing.T) {
	m := NewMessage("m1", "+1", "+2", "hi", 0)
	assert.False(t, m.IsExpired(m.CreatedAt))
	assert.True(t, m.IsExpired(m.ExpiresAt.Add(time.Second)))
}
