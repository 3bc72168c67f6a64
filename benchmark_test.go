package tidepool

import (
	"sync/atomic"
	"testing"
)

func BenchmarkRingBuffer_PushPop(b *testing.B) {
	buf := NewRingBuffer[int](1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.TryPush(i)
		buf.TryPop()
	}
}

func BenchmarkRingBuffer_Concurrent(b *testing.B) {
	buf := NewRingBuffer[int](4096)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i&1 == 0 {
				for !buf.TryPush(i) {
					if _, ok := buf.TryPop(); !ok {
						break
					}
				}
			} else {
				buf.TryPop()
			}
			i++
		}
	})
}

func BenchmarkBlockingQueue_TryPushPop(b *testing.B) {
	q := NewBlockingQueue[int](1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.TryPush(i)
		q.TryPop()
	}
}

func BenchmarkPool_Post(b *testing.B) {
	cfg := DefaultConfig(4096)
	cfg.CoreThreads = 4
	cfg.MaxThreads = 4
	p, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	if err := p.Start(); err != nil {
		b.Fatal(err)
	}
	defer p.Stop(StopGraceful)

	var counter int64
	task := func() { atomic.AddInt64(&counter, 1) }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Post(task)
	}
}

func BenchmarkPool_PostParallel(b *testing.B) {
	cfg := DefaultConfig(8192)
	cfg.CoreThreads = 4
	cfg.MaxThreads = 8
	p, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	if err := p.Start(); err != nil {
		b.Fatal(err)
	}
	defer p.Stop(StopGraceful)

	var counter int64
	task := func() { atomic.AddInt64(&counter, 1) }

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = p.Post(task)
		}
	})
}

func BenchmarkPool_Submit(b *testing.B) {
	cfg := DefaultConfig(4096)
	cfg.CoreThreads = 4
	cfg.MaxThreads = 4
	p, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	if err := p.Start(); err != nil {
		b.Fatal(err)
	}
	defer p.Stop(StopGraceful)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Submit(p, func() (int, error) { return i, nil })
	}
}
