// Package digest 计算候选文件的内容指纹，用于上传前的重复检测。
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"course-intake/internal/model"
	"course-intake/pkg/log"

	"golang.org/x/sync/errgroup"
)

const (
	AlgorithmSHA256   = "sha256"
	AlgorithmFallback = "fallback"

	// fallbackSampleSize 是弱指纹取样的内容字节数。
	fallbackSampleSize = 64
	defaultConcurrency = 4
)

// Result 是一次指纹计算的结果。Strong 为 false 时只能作为重复提示，不能当作文件身份。
type Result struct {
	Value  string `json:"value"`
	Strong bool   `json:"strong"`
}

// Service 是内容指纹服务。
type Service struct {
	newHash     func() hash.Hash
	concurrency int
}

// NewService 根据算法名创建指纹服务，未知算法退化为弱指纹。
func NewService(algorithm string, concurrency int) *Service {
	s := &Service{concurrency: concurrency}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	switch algorithm {
	case AlgorithmSHA256, "":
		s.newHash = sha256.New
	case AlgorithmFallback:
	default:
		log.Warnf("[Digest] 未知的摘要算法 %q, 使用弱指纹", algorithm)
	}
	return s
}

// Strong 表示该服务是否产出强指纹。
func (s *Service) Strong() bool { return s.newHash != nil }

// Digest 计算单个候选文件的指纹。强指纹路径读取完整内容，读取失败时返回 error。
func (s *Service) Digest(ctx context.Context, c *model.FileCandidate) (Result, error) {
	if s.newHash == nil {
		return Result{Value: fallback(c), Strong: false}, nil
	}
	r, err := c.Reader()
	if err != nil {
		return Result{}, fmt.Errorf("读取文件 %s 失败: %w", c.Name, err)
	}
	h := s.newHash()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: r}); err != nil {
		return Result{}, fmt.Errorf("计算文件 %s 摘要失败: %w", c.Name, err)
	}
	return Result{Value: hex.EncodeToString(h.Sum(nil)), Strong: true}, nil
}

// DigestAll 并发计算一批候选文件的指纹并写回 Digest 字段，任一失败则整体返回该错误。
func (s *Service) DigestAll(ctx context.Context, cs []*model.FileCandidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range cs {
		c := c
		g.Go(func() error {
			res, err := s.Digest(gctx, c)
			if err != nil {
				return err
			}
			c.Digest = res.Value
			c.DigestStrong = res.Strong
			return nil
		})
	}
	return g.Wait()
}

// fallback 由内容前 64 字节、大小和文件名组成确定性的弱指纹。
func fallback(c *model.FileCandidate) string {
	sample, err := c.Head(fallbackSampleSize)
	if err != nil {
		sample = nil
	}
	return fmt.Sprintf("%s-%d-%s", base64.StdEncoding.EncodeToString(sample), c.Size, c.Name)
}

// ctxReader 在每次读取前检查 ctx，使大文件的摘要计算可以被取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
