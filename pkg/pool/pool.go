/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package pool

import (
	"context"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/logger"
)

var (
	ErrChannelInit = errors.New("pool: unable to initialize channel")
	ErrNotAssigned = errors.New("pool: consumer has no assigned channel")
)

// Channel is the capability a pooled channel must provide. Slot
// reservation is atomic and non-blocking; the pool never calls
// TryReserveSlot while holding nothing, so implementations only need the
// counter itself to be atomic.
type Channel interface {
	TryReserveSlot() bool
	ReleaseSlot()
	Close() error
}

// InitializeFn builds and connects a new channel. It runs under the pool
// lock, which serializes channel creation per pool.
type InitializeFn[C Channel] func(ctx context.Context) (C, error)

// Pool owns every channel to a single host and arbitrates which consumer
// uses which channel. Channels are created lazily, reused across
// consumers, and only closed by ReleaseAll.
//
// A consumer holds at most one channel at a time, and a channel serves at
// most its slot count of consumers. Acquire and Release for the same
// consumer id must be serialized by the caller.
type Pool[C Channel] struct {
	name       string
	initialize InitializeFn[C]

	mutex       sync.Mutex
	channels    []C
	assignments *orderedmap.OrderedMap[string, C]
}

func NewPool[C Channel](name string, initialize InitializeFn[C]) *Pool[C] {
	return &Pool[C]{
		name:        name,
		initialize:  initialize,
		assignments: orderedmap.New[string, C](),
	}
}

// Acquire binds consumerId to a channel with a reserved slot and returns
// it. A consumer that already holds a channel gets the same channel back.
// Otherwise the first channel, in creation order, with a free slot is
// assigned; when every channel is full a new one is initialized. On an
// initialization failure nothing is recorded and the error wraps
// ErrChannelInit.
func (pool *Pool[C]) Acquire(ctx context.Context, consumerId string) (C, error) {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	if channel, found := pool.assignments.Get(consumerId); found {
		return channel, nil
	}

	for _, channel := range pool.channels {
		if channel.TryReserveSlot() {
			pool.assignments.Set(consumerId, channel)
			metrics.observeAcquire(pool.name, len(pool.channels), pool.assignments.Len(), true)
			return channel, nil
		}
	}

	channel, err := pool.initialize(ctx)
	if err != nil {
		metrics.observeInitializeFailure(pool.name)

		var none C
		return none, ErrChannelInit.Wrap(err)
	}

	if !channel.TryReserveSlot() {
		// Capacity accounting is broken, nothing sensible can continue.
		logger.Panicf("pool %s: freshly initialized channel has no free slot", pool.name)
	}

	pool.channels = append(pool.channels, channel)
	pool.assignments.Set(consumerId, channel)
	metrics.observeAcquire(pool.name, len(pool.channels), pool.assignments.Len(), false)

	return channel, nil
}

// Release frees the slot held by consumerId and forgets the assignment.
// The channel stays alive for reuse. Releasing an unknown consumer returns
// an error wrapping ErrNotAssigned.
func (pool *Pool[C]) Release(consumerId string) error {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	channel, found := pool.assignments.Get(consumerId)
	if !found {
		return ErrNotAssigned.Wrapf("consumer %s", consumerId)
	}

	channel.ReleaseSlot()
	pool.assignments.Delete(consumerId)
	metrics.observeRelease(pool.name, len(pool.channels), pool.assignments.Len())

	return nil
}

// ReleaseAll drops every assignment and closes every channel, best
// effort. Close errors are collected and logged but never stop the
// teardown. Safe to call on an empty pool.
func (pool *Pool[C]) ReleaseAll() {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	pool.assignments = orderedmap.New[string, C]()

	var errs []error
	for _, channel := range pool.channels {
		err := channel.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	pool.channels = nil
	metrics.observeTeardown(pool.name)

	err := errors.Join(errs...)
	if err != nil {
		logger.Errorf("pool %s: teardown, %v", pool.name, err)
	}
}

func (pool *Pool[C]) Name() string {
	return pool.name
}

// ChannelCount reports the number of live channels.
func (pool *Pool[C]) ChannelCount() int {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	return len(pool.channels)
}

// AssignmentCount reports the number of bound consumers.
func (pool *Pool[C]) AssignmentCount() int {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	return pool.assignments.Len()
}
