package digest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"course-intake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestSHA256(t *testing.T) {
	s := NewService(AlgorithmSHA256, 2)
	c := model.NewCandidate("a.txt", "text/plain", 3, bytes.NewReader([]byte("abc")))

	res, err := s.Digest(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, res.Strong)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", res.Value)
}

func TestDigestDeterministic(t *testing.T) {
	s := NewService("", 0)
	content := []byte("same bytes, different names")
	a := model.NewCandidate("a.txt", "text/plain", int64(len(content)), bytes.NewReader(content))
	b := model.NewCandidate("b.txt", "text/plain", int64(len(content)), bytes.NewReader(content))

	ra, err := s.Digest(context.Background(), a)
	require.NoError(t, err)
	rb, err := s.Digest(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, ra.Value, rb.Value)
}

func TestDigestUnreadable(t *testing.T) {
	s := NewService(AlgorithmSHA256, 1)
	_, err := s.Digest(context.Background(), model.NewCandidate("a.pdf", "application/pdf", 10, nil))
	assert.ErrorIs(t, err, model.ErrNoContent)
}

func TestDigestFallback(t *testing.T) {
	s := NewService(AlgorithmFallback, 1)
	assert.False(t, s.Strong())

	content := bytes.Repeat([]byte{'x'}, 100)
	c := model.NewCandidate("big.txt", "text/plain", 100, bytes.NewReader(content))
	res, err := s.Digest(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, res.Strong)
	want := fmt.Sprintf("%s-100-big.txt", base64.StdEncoding.EncodeToString(content[:64]))
	assert.Equal(t, want, res.Value)

	// 没有内容句柄时仍然产出指纹
	res, err = s.Digest(context.Background(), model.NewCandidate("x.pdf", "application/pdf", 7, nil))
	require.NoError(t, err)
	assert.Equal(t, "-7-x.pdf", res.Value)
}

func TestDigestAll(t *testing.T) {
	s := NewService(AlgorithmSHA256, 2)
	var cs []*model.FileCandidate
	for i := 0; i < 5; i++ {
		body := []byte(fmt.Sprintf("file-%d", i))
		cs = append(cs, model.NewCandidate(fmt.Sprintf("%d.txt", i), "text/plain", int64(len(body)), bytes.NewReader(body)))
	}

	require.NoError(t, s.DigestAll(context.Background(), cs))
	seen := map[string]bool{}
	for _, c := range cs {
		assert.True(t, c.DigestStrong)
		assert.Len(t, c.Digest, 64)
		seen[c.Digest] = true
	}
	assert.Len(t, seen, 5)
}

func TestDigestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewService(AlgorithmSHA256, 1)
	c := model.NewCandidate("a.txt", "text/plain", 3, bytes.NewReader([]byte("abc")))
	_, err := s.Digest(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
}
