package cursor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_Compare(t *testing.T) {
	a := Timestamp{Millis: 100}
	b := Timestamp{Millis: 200}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(Timestamp{Millis: 100}))
}

func TestTimestamp_Zero(t *testing.T) {
	var zero Timestamp
	assert.True(t, zero.IsZero())
	assert.False(t, Now().IsZero())
}

func TestTimestamp_RoundTrip(t *testing.T) {
	orig := FromTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
	assert.Equal(t, orig.Millis, parsed.Time().UnixMilli())
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"1717243200000", 1717243200000, false},
		{"-5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got.Millis)
	}
}

func TestTimestamp_JSON(t *testing.T) {
	data, err := json.Marshal(Timestamp{Millis: 42})
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte("null"), &ts))
	assert.True(t, ts.IsZero())

	require.NoError(t, json.Unmarshal([]byte("1234"), &ts))
	assert.Equal(t, int64(1234), ts.Millis)

	assert.Error(t, json.Unmarshal([]byte(`"oops"`), &ts))
	assert.Error(t, json.Unmarshal([]byte("-1"), &ts))
}

func TestLatest(t *testing.T) {
	a := Timestamp{Millis: 100}
	b := Timestamp{Millis: 200}
	assert.Equal(t, b, Latest(a, b))
	assert.Equal(t, b, Latest(b, a))
	assert.Equal(t, a, Latest(a, Timestamp{}))
}
