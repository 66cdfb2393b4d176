package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalstake-backend/internal/goals"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLeaseExcludesSecondHolder(t *testing.T) {
	mr, client := setupRedis(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lease.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("goalstake:scheduler:job"))

	_, ok, err = lease.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLeaseExpires(t *testing.T) {
	mr, client := setupRedis(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lease.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the stale holder must not drop the new lease
	release()
	assert.True(t, mr.Exists("goalstake:scheduler:job"))
}

func TestRunOnceSkipsWhenLeaseHeld(t *testing.T) {
	_, client := setupRedis(t)
	lease := NewRedisLease(client)

	var runs atomic.Int32
	a := New(nil, WithLease(lease))
	b := New(nil, WithLease(lease))
	job := func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}
	require.NoError(t, a.Add("sweep", "@every 1m", job))
	require.NoError(t, b.Add("sweep", "@every 1m", job))

	release, ok, err := lease.Acquire(context.Background(), "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.RunOnce(context.Background(), "sweep"))
	assert.Zero(t, runs.Load())

	release()
	require.NoError(t, b.RunOnce(context.Background(), "sweep"))
	assert.Equal(t, int32(1), runs.Load())
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(nil)
	noop := func(context.Context, time.Time) error { return nil }

	assert.Error(t, s.Add("x", "not a spec", noop))
	require.NoError(t, s.Add("x", "@hourly", noop))
	assert.Error(t, s.Add("x", "@hourly", noop))
	assert.Error(t, s.RunOnce(context.Background(), "missing"))
}

type fakeSweeps struct {
	alarms, expired, reconciled atomic.Int32
	now                         time.Time
}

func (f *fakeSweeps) EvaluateDue(_ context.Context, now time.Time) (int, error) {
	f.alarms.Add(1)
	f.now = now
	return 2, nil
}

func (f *fakeSweeps) ExpireOverdue(context.Context, time.Time) ([]goals.Resolution, error) {
	f.expired.Add(1)
	return nil, errors.New("store down")
}

func (f *fakeSweeps) ReconcileAll(context.Context) ([]string, error) {
	f.reconciled.Add(1)
	return []string{"acc-9"}, nil
}

func TestRegisterWiresSweeps(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time { return fixed }))
	f := &fakeSweeps{}

	require.NoError(t, Register(s, Specs{Alarms: "@every 1m", Expiry: "@every 5m", Reconcile: "@hourly"}, f, f, f))

	ctx := context.Background()
	require.NoError(t, s.RunOnce(ctx, JobAlarms))
	assert.Equal(t, fixed, f.now)
	assert.EqualError(t, s.RunOnce(ctx, JobExpiry), "store down")
	require.NoError(t, s.RunOnce(ctx, JobReconcile))

	assert.Equal(t, int32(1), f.alarms.Load())
	assert.Equal(t, int32(1), f.expired.Load())
	assert.Equal(t, int32(1), f.reconciled.Load())
}

func TestRegisterSkipsEmptySpecs(t *testing.T) {
	s := New(nil)
	f := &fakeSweeps{}
	require.NoError(t, Register(s, Specs{Alarms: "@every 1m"}, f, f, f))
	assert.Error(t, s.RunOnce(context.Background(), JobExpiry))
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add("tick", "@every 1h", func(context.Context, time.Time) error { return nil }))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
