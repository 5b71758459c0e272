// Package semaphore は遅延付きで許可を受け渡すFIFOセマフォを提供する。
// 上流APIへのファンアウト時に、同時実行数と新規着手のペースを同時に制限するために使う。
package semaphore

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Gate は同時実行数の上限と解放遅延を持つセマフォ。
//
// 待ち行列が空でないときのReleaseは、許可を先頭の待機者へ直接引き渡す。
// releaseDelayが設定されている場合、その待機者はreleaseDelay経過後に起こされる。
// 遅延は新たに許可を得た側が負担し、Releaseの呼び出し元はブロックしない。
type Gate struct {
	mu           sync.Mutex
	max          int
	releaseDelay time.Duration
	count        int
	waiters      list.List // *waiter
}

type waiter struct {
	ready    chan struct{}
	admitted bool
}

// New はGateを生成する。maxConcurrentが0以下の場合は1として扱う。
func New(maxConcurrent int, releaseDelay time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if releaseDelay < 0 {
		releaseDelay = 0
	}
	return &Gate{max: maxConcurrent, releaseDelay: releaseDelay}
}

// Acquire は許可を取得する。上限に達している場合はFIFO順で待機する。
// ctxがキャンセルされた場合、まだ許可を受け取っていなければ待ち行列から外れてctx.Err()を返す。
// 許可の受け渡しが既に始まっていた場合は、受け取った許可をそのまま返却する。
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.count < g.max {
		g.count++
		g.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	elem := g.waiters.PushBack(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if !w.admitted {
			g.waiters.Remove(elem)
			g.mu.Unlock()
			return ctx.Err()
		}
		g.mu.Unlock()
		go func() {
			<-w.ready
			g.Release()
		}()
		return ctx.Err()
	}
}

// Release は許可を返却する。
// 待機者がいれば先頭へ許可を引き渡し、いなければ使用中カウントを減らす。
// 事前条件: 対応するAcquireが成功していること。対応のないReleaseはカウントを減らすだけで検出しない。
func (g *Gate) Release() {
	g.mu.Lock()
	front := g.waiters.Front()
	if front == nil {
		g.count--
		g.mu.Unlock()
		return
	}
	g.waiters.Remove(front)
	w := front.Value.(*waiter)
	w.admitted = true
	g.mu.Unlock()

	if g.releaseDelay > 0 {
		time.AfterFunc(g.releaseDelay, func() { close(w.ready) })
		return
	}
	close(w.ready)
}

// InUse は現在払い出されている許可の数を返す。遅延中の受け渡しも含む。
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Waiting は待ち行列の長さを返す。
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}
