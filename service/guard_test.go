package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLocker struct {
	err      error
	locked   int
	unlocked int
}

func (l *stubLocker) Lock(context.Context, string) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked++
	return func() error {
		l.unlocked++
		return nil
	}, nil
}

func TestGuardRejectsNestedEntry(t *testing.T) {
	g := newGuard(nil, "settle", 0)
	ctx, release, err := g.enter(context.Background())
	require.NoError(t, err)

	_, _, err = g.enter(ctx)
	assert.ErrorIs(t, err, ErrReentrantCall)
	release()

	// 释放后新的调用链可以再次进入
	_, release, err = g.enter(context.Background())
	require.NoError(t, err)
	release()
}

func TestGuardWaitsForRelease(t *testing.T) {
	g := newGuard(nil, "settle", 0)
	_, release, err := g.enter(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = g.enter(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, r, err := g.enter(context.Background())
		if err == nil {
			r()
		}
		done <- err
	}()
	release()
	assert.NoError(t, <-done)
}

func TestGuardLockerFailureReleasesSlot(t *testing.T) {
	locker := &stubLocker{err: errors.New("redis unavailable")}
	g := newGuard(locker, "settle", 0)

	_, _, err := g.enter(context.Background())
	assert.ErrorContains(t, err, "redis unavailable")

	locker.err = nil
	_, release, err := g.enter(context.Background())
	require.NoError(t, err)
	release()
	assert.Equal(t, 1, locker.locked)
	assert.Equal(t, 1, locker.unlocked)
}

func TestGuardRejectsEntryBlockingCallout(t *testing.T) {
	g := newGuard(nil, "settle", 30*time.Millisecond)
	_, release, err := g.enter(context.Background())
	require.NoError(t, err)
	defer release()

	// 外部调用里用新的上下文再次进入：等待超过 grace 后拒绝，而不是死锁
	var nested error
	start := time.Now()
	require.NoError(t, g.callout(func() error {
		_, _, nested = g.enter(context.Background())
		return nil
	}))
	assert.ErrorIs(t, nested, ErrReentrantCall)
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, g.currentCallout())

	// 外部调用结束后，新调用按正常排队等待
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, _, err = g.enter(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuardWaiterSurvivesShortCallout(t *testing.T) {
	g := newGuard(nil, "settle", 200*time.Millisecond)
	_, release, err := g.enter(context.Background())
	require.NoError(t, err)

	started := make(chan struct{})
	finish := make(chan struct{})
	calloutDone := make(chan error, 1)
	go func() {
		calloutDone <- g.callout(func() error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	// 外部调用期间到达的并发调用者：调用在 grace 内结束则继续排队
	entered := make(chan error, 1)
	go func() {
		_, r, err := g.enter(context.Background())
		if err == nil {
			r()
		}
		entered <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(finish)
	require.NoError(t, <-calloutDone)

	time.Sleep(250 * time.Millisecond)
	release()
	assert.NoError(t, <-entered)
}
