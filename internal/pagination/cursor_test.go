package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	id := "aud_0192abc"

	cursor, err := Decode(Encode(ts, id))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.ErrorContains(t, err, "invalid cursor")

	_, err = Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestCursor_After(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	c := &Cursor{CreatedAt: ts, ID: "aud_5"}

	assert.True(t, c.After(ts.Add(-time.Second), "aud_9"), "older entries follow")
	assert.False(t, c.After(ts.Add(time.Second), "aud_1"), "newer entries precede")
	assert.True(t, c.After(ts, "aud_4"), "same instant, lower id follows")
	assert.False(t, c.After(ts, "aud_5"), "cursor row itself is excluded")

	var nilCursor *Cursor
	assert.True(t, nilCursor.After(ts, "anything"))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ParseLimit(""))
	assert.Equal(t, DefaultLimit, ParseLimit("abc"))
	assert.Equal(t, DefaultLimit, ParseLimit("-3"))
	assert.Equal(t, 10, ParseLimit("10"))
	assert.Equal(t, MaxLimit, ParseLimit("100000"))
}

func TestComputePage_HasMore(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Len(t, result, 3)
	assert.True(t, hasMore)

	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
