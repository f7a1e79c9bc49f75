package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"loom/internal/asset"
	"loom/internal/config"
	"loom/internal/files"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/routing"
	"loom/internal/store"
)

// Manager coordinates the routing engine: it serializes transition
// chains per asset, feeds the conversion lane, and flushes routes on
// an interval.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	notifier notify.Service
	exec     *routing.Executor

	converter Converter
	convertCh chan int64

	locks *assetLocks

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a manager with the notifier derived from
// configuration.
func NewManager(cfg *config.Config, st *store.Store, fs *files.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, st, fs, logger, notify.NewService(cfg))
}

// NewManagerWithNotifier constructs a manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, st *store.Store, fs *files.Store, logger *slog.Logger, notifier notify.Service) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     st,
		logger:    logger,
		notifier:  notifier,
		converter: &RenameConverter{Files: fs},
		convertCh: make(chan int64, 64),
		locks:     newAssetLocks(),
	}
	m.exec = routing.NewExecutor(cfg, st, fs, notifier, logger)
	m.exec.Convert = m.enqueueConversion
	return m
}

// SetConverter swaps the document converter. Must be called before
// Start.
func (m *Manager) SetConverter(c Converter) { m.converter = c }

// Executor exposes the underlying transition executor for callers
// that need read-side helpers such as candidate resolution.
func (m *Manager) Executor() *routing.Executor { return m.exec }

// HandleAssetSaved runs the automatic routing pass that follows every
// asset mutation. Chains for the same asset never overlap.
func (m *Manager) HandleAssetSaved(ctx context.Context, assetID int64) (*asset.Asset, error) {
	release := m.locks.acquire(assetID)
	defer release()
	a, err := m.exec.AutoRoute(ctx, assetID)
	m.setLastError(err)
	return a, err
}

// SubmitToDestination routes an asset to an explicitly chosen stage.
func (m *Manager) SubmitToDestination(ctx context.Context, assetID int64, dest asset.Destination, suspend bool) (*asset.Asset, error) {
	release := m.locks.acquire(assetID)
	defer release()
	a, err := m.exec.Submit(ctx, assetID, dest, suspend)
	m.setLastError(err)
	return a, err
}

// RewindAsset sends an asset back along its latest forward transition.
func (m *Manager) RewindAsset(ctx context.Context, assetID int64) (*asset.Asset, error) {
	release := m.locks.acquire(assetID)
	defer release()
	a, err := m.exec.Rewind(ctx, assetID)
	m.setLastError(err)
	return a, err
}

// FlushRoute re-evaluates every asset on a route once.
func (m *Manager) FlushRoute(ctx context.Context, routeID int64) error {
	err := m.exec.Flush(ctx, routeID)
	m.setLastError(err)
	return err
}

// Start launches the conversion lane and the periodic flush loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(2)
	m.mu.Unlock()

	go m.runConversionLane(runCtx)
	go m.runFlushLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether background processing is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent engine failure, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// enqueueConversion hands an asset to the conversion lane without
// blocking the transition chain. A full lane drops the request with a
// warning; the next flush pass re-schedules it.
func (m *Manager) enqueueConversion(assetID int64) {
	select {
	case m.convertCh <- assetID:
	default:
		m.logger.Warn("conversion lane full, dropping request",
			logging.Int64("asset_id", assetID))
	}
}

func (m *Manager) runConversionLane(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case assetID := <-m.convertCh:
			if err := m.convertAsset(ctx, assetID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.setLastError(err)
				m.logger.Error("conversion failed",
					logging.Int64("asset_id", assetID),
					logging.Error(err))
			}
		}
	}
}

// convertAsset runs the converter against the asset's current station
// settings and re-enters routing with the converted document in place.
func (m *Manager) convertAsset(ctx context.Context, assetID int64) error {
	release := m.locks.acquire(assetID)

	err := func() error {
		defer release()
		a, err := m.store.AssetByID(ctx, assetID)
		if err != nil {
			return err
		}
		if a == nil {
			return nil
		}
		stage, err := m.store.StageByID(ctx, a.StageID)
		if err != nil {
			return err
		}
		if stage == nil {
			return nil
		}
		station, err := m.store.StationByID(ctx, stage.StationID)
		if err != nil {
			return err
		}
		if station == nil || station.Behavior != asset.BehaviorPDFConverter {
			// The asset moved on while queued; nothing to convert.
			return nil
		}

		convertCtx := ctx
		if timeout := m.cfg.Engine.ConvertTimeout; timeout > 0 {
			var cancel context.CancelFunc
			convertCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()
		}
		if err := m.converter.Convert(convertCtx, a, station.BehaviorSettings); err != nil {
			a.Meta.AppendHistory(asset.HistoryEntry{
				At:      time.Now(),
				Action:  asset.HistoryError,
				StageID: stage.ID,
				Detail:  err.Error(),
			})
			if saveErr := m.store.UpdateAsset(ctx, a); saveErr != nil {
				return saveErr
			}
			return err
		}
		return m.store.UpdateAsset(ctx, a)
	}()
	if err != nil {
		return err
	}

	// The save re-enters routing so the converted asset moves on.
	_, err = m.HandleAssetSaved(ctx, assetID)
	return err
}

func (m *Manager) runFlushLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Engine.FlushInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.flushAll(ctx)
		}
	}
}

func (m *Manager) flushAll(ctx context.Context) {
	routes, err := m.store.ListRoutes(ctx)
	if err != nil {
		m.setLastError(err)
		m.logger.Error("route list for flush failed", logging.Error(err))
		return
	}
	for _, route := range routes {
		if err := m.exec.Flush(ctx, route.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			m.logger.Error("route flush failed",
				logging.Int64("route_id", route.ID),
				logging.Error(err))
		}
	}
}
