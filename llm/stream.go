package llm

import (
	"context"
	"sync"
)

// Stream 单次、只进、不可重启的增量序列。
//
// Chunks 关闭之后 Err 与 Usage 才有意义：Err 为 nil 且 Usage 的第二个返回值
// 为 true，表示序列正常耗尽并带有最终用量。被取消或出错的流不会报告用量。
type Stream interface {
	Chunks() <-chan StreamChunk
	Err() error
	Usage() (Usage, bool)
}

// PipeStream 是 Stream 的通道实现，生产者通过 Send/Finish 写入。
type PipeStream struct {
	ch       chan StreamChunk
	once     sync.Once
	mu       sync.Mutex
	err      error
	usage    Usage
	hasUsage bool
}

// NewPipeStream 创建带缓冲的流
func NewPipeStream(buffer int) *PipeStream {
	if buffer < 0 {
		buffer = 0
	}
	return &PipeStream{ch: make(chan StreamChunk, buffer)}
}

// Send 投递一个增量，ctx 结束时返回 false，生产者应随即 Finish。
func (s *PipeStream) Send(ctx context.Context, chunk StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case s.ch <- chunk:
		return true
	}
}

// Finish 记录终态并关闭通道，只有第一次调用生效。
// err 非 nil 时丢弃 usage。
func (s *PipeStream) Finish(usage *Usage, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		if err == nil && usage != nil {
			s.usage = *usage
			s.hasUsage = true
		}
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *PipeStream) Chunks() <-chan StreamChunk { return s.ch }

func (s *PipeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *PipeStream) Usage() (Usage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.hasUsage
}

// Drain 读完整个流并拼接文本，用于不需要增量的调用方。
func Drain(ctx context.Context, st Stream) (string, Usage, error) {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return string(buf), Usage{}, ctx.Err()
		case c, ok := <-st.Chunks():
			if !ok {
				if err := st.Err(); err != nil {
					return string(buf), Usage{}, err
				}
				u, _ := st.Usage()
				return string(buf), u, nil
			}
			buf = append(buf, c.Delta...)
		}
	}
}
