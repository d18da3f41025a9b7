package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
)

// ConnState is the remote replication connection state.
type ConnState string

const (
	StateOffline ConnState = "offline"
	StateSyncing ConnState = "syncing"
	StateSynced  ConnState = "synced"
	StateError   ConnState = "error"
)

const replicateTimeout = 30 * time.Second

// Adapter is the persistence front door: synchronous guaranteed writes to
// the local store, best-effort background replication to the remote store.
// Remote failures are folded into the connection state and never returned
// to the caller. Overlapping save requests coalesce: at most one snapshot
// is in flight and at most one is queued, the queued one always being the
// latest.
type Adapter struct {
	local  Store
	remote *RemoteStore
	log    *logger.Logger

	mu    sync.Mutex
	state ConnState
	subs  []func(ConnState)

	pending chan []models.TrackedParcel
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewAdapter wires the local store and the optional remote store. A nil
// remote disables replication and pins the state to offline.
func NewAdapter(local Store, remote *RemoteStore, log *logger.Logger) *Adapter {
	a := &Adapter{
		local:   local,
		remote:  remote,
		log:     log,
		state:   StateOffline,
		pending: make(chan []models.TrackedParcel, 1),
		done:    make(chan struct{}),
	}

	if remote != nil {
		a.wg.Add(1)
		go a.replicateLoop()
	}

	return a
}

// Load reads the durable snapshot from the local store.
func (a *Adapter) Load(ctx context.Context) ([]models.TrackedParcel, error) {
	return a.local.Load(ctx)
}

// LoadSeed reads the durable snapshot, falling back to the remote copy when
// the local store is empty and a remote is configured. A fetched seed is
// written through to the local store so subsequent boots read locally. A
// remote fetch failure degrades to the empty local result: replication is
// best-effort on the read side too.
func (a *Adapter) LoadSeed(ctx context.Context) ([]models.TrackedParcel, error) {
	parcels, err := a.local.Load(ctx)
	if err != nil || len(parcels) > 0 || a.remote == nil {
		return parcels, err
	}

	fetched, err := a.remote.Fetch(ctx)
	if err != nil {
		a.log.Warn("Remote seed fetch failed, starting from empty local store", map[string]interface{}{
			"error": err.Error(),
		})
		return parcels, nil
	}
	if len(fetched) == 0 {
		return parcels, nil
	}

	if err := a.local.Save(ctx, fetched); err != nil {
		return nil, fmt.Errorf("write remote seed: %w", err)
	}
	a.log.Info("Seeded local store from remote copy", map[string]interface{}{
		"count": len(fetched),
	})
	return fetched, nil
}

// Save writes the snapshot to the local store before returning, then
// dispatches remote replication without blocking. A local write failure is
// returned to the caller; it must abort the user operation.
func (a *Adapter) Save(ctx context.Context, parcels []models.TrackedParcel) error {
	if err := a.local.Save(ctx, parcels); err != nil {
		return fmt.Errorf("local save: %w", err)
	}

	if a.remote != nil {
		a.enqueue(parcels)
	}
	return nil
}

// Ping checks the local store.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.local.Ping(ctx)
}

// ConnectionState returns the current remote replication state.
func (a *Adapter) ConnectionState() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers a connection-state observer. The current state is
// delivered immediately; after that, each transition is delivered at most
// once. There is no replay of missed transitions for late subscribers.
func (a *Adapter) Subscribe(fn func(ConnState)) {
	a.mu.Lock()
	a.subs = append(a.subs, fn)
	current := a.state
	a.mu.Unlock()

	fn(current)
}

// Close stops the replication worker and closes the local store.
func (a *Adapter) Close() error {
	close(a.done)
	a.wg.Wait()
	return a.local.Close()
}

// enqueue replaces any queued snapshot with the latest one.
func (a *Adapter) enqueue(parcels []models.TrackedParcel) {
	for {
		select {
		case a.pending <- parcels:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

func (a *Adapter) replicateLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		case snapshot := <-a.pending:
			a.setState(StateSyncing)

			ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
			err := a.remote.Replace(ctx, snapshot)
			cancel()

			if err != nil {
				a.log.Warn("Remote replication failed", map[string]interface{}{
					"error": err.Error(),
					"count": len(snapshot),
				})
				a.setState(StateError)
				continue
			}

			a.log.Debug("Remote replication complete", map[string]interface{}{
				"count": len(snapshot),
			})
			a.setState(StateSynced)
		}
	}
}

// setState transitions the connection state and notifies subscribers once
// per transition. Setting the same state again is a no-op.
func (a *Adapter) setState(next ConnState) {
	a.mu.Lock()
	if a.state == next {
		a.mu.Unlock()
		return
	}
	a.state = next
	subs := make([]func(ConnState), len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
