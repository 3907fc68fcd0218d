package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nft_settlement/utils"

	"go.uber.org/zap"
)

// Locker 跨进程互斥（redsync实现）
type Locker interface {
	Lock(ctx context.Context, key string) (func() error, error)
}

type guardCtxKey struct{}

// defaultCalloutGrace 持有者卡在外部调用里超过该时长，等待者按回调重入处理
const defaultCalloutGrace = time.Second

// guard 结算重入锁：覆盖整个结算调用
// 同一调用链内的嵌套进入直接拒绝，其他并发调用排队等待
// 协作方丢弃上下文回调进来时无法从ctx识别，只能看持有者是否一直停在同一次外部调用里
type guard struct {
	sem    chan struct{}
	locker Locker
	key    string
	grace  time.Duration

	mu          sync.Mutex
	calloutDone chan struct{} // 当前外部调用结束时关闭，nil表示没有外部调用
}

func newGuard(locker Locker, key string, grace time.Duration) *guard {
	if grace <= 0 {
		grace = defaultCalloutGrace
	}
	return &guard{sem: make(chan struct{}, 1), locker: locker, key: key, grace: grace}
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if owner, ok := ctx.Value(guardCtxKey{}).(*guard); ok && owner == g {
		return nil, nil, ErrReentrantCall
	}

	select {
	case g.sem <- struct{}{}:
	default:
		if err := g.wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	var unlock func() error
	if g.locker != nil {
		var err error
		unlock, err = g.locker.Lock(ctx, g.key)
		if err != nil {
			<-g.sem
			return nil, nil, fmt.Errorf("acquire settlement lock: %w", err)
		}
	}

	release := func() {
		if unlock != nil {
			if err := unlock(); err != nil {
				utils.Logger.Warn("释放分布式锁失败", zap.String("key", g.key), zap.Error(err))
			}
		}
		<-g.sem
	}
	return context.WithValue(ctx, guardCtxKey{}, g), release, nil
}

// wait 排队等待；若到达时持有者正在外部调用，且该调用在 grace 内没有结束，视为回调重入
func (g *guard) wait(ctx context.Context) error {
	for {
		done := g.currentCallout()
		if done == nil {
			select {
			case g.sem <- struct{}{}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		timer := time.NewTimer(g.grace)
		select {
		case g.sem <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-done:
			timer.Stop()
		case <-timer.C:
			utils.Logger.Warn("外部调用期间的进入被拒绝", zap.String("key", g.key), zap.Duration("grace", g.grace))
			return withDetail(ErrReentrantCall, "lock holder blocked in collaborator call for %s", g.grace)
		}
	}
}

func (g *guard) currentCallout() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calloutDone
}

// callout 包裹持有者对外部协作方（版税表、预言机、事件总线）的调用
func (g *guard) callout(fn func() error) error {
	done := make(chan struct{})
	g.mu.Lock()
	g.calloutDone = done
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.calloutDone = nil
		g.mu.Unlock()
		close(done)
	}()
	return fn()
}
