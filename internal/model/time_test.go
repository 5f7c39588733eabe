package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTimeRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 30, 0, 0, time.Local)
	b, err := json.Marshal(LocalTime(at))
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-01 10:30:00"`, string(b))

	var back LocalTime
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, at.Equal(time.Time(back)))
}

func TestLocalTimeAcceptsRFC3339(t *testing.T) {
	var lt LocalTime
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-01T10:30:00Z"`), &lt))
	assert.Equal(t, 2025, time.Time(lt).Year())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &lt))
}

func TestCandidateHead(t *testing.T) {
	c := NewCandidate("a.txt", "text/plain", 5, strings.NewReader("hello"))
	head, err := c.Head(16)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(head))
	assert.Equal(t, ".txt", c.Extension())
	assert.NotEmpty(t, c.LocalID)

	_, err = (&FileCandidate{Name: "x"}).Reader()
	assert.ErrorIs(t, err, ErrNoContent)
}
