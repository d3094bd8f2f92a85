// Package mdkd is the host-side wiring for the demo daemon: a small
// chi status surface, a coder/websocket relay-feed stand-in, and a
// nats.go fan-out of rollback notifications. None of this is imported
// by the core packages — it sits beside mdk.Core the way the original
// workspace's marmotd daemon sat beside its core crate rather than
// inside it.
package mdkd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/suhailsaqan/mdk/callback"
	"github.com/suhailsaqan/mdk/mdk"
)

// Config bundles the daemon's host-side tunables; none of these flow
// into mdk.Core.
type Config struct {
	Addr          string
	NATSURL       string // empty disables NATS fan-out
	RollbackTopic string // default "mdk.rollback"
}

// Daemon wraps a *mdk.Core with an HTTP status surface and an optional
// NATS publisher for rollback notifications.
type Daemon struct {
	core *mdk.Core
	cfg  Config
	log  *zap.Logger
	nc   *nats.Conn

	mu       sync.Mutex
	relayers map[*websocket.Conn]struct{}
}

// New constructs a Daemon around an already-built core. If cfg.NATSURL
// is non-empty, it dials NATS and publishes every OnRollback call to
// cfg.RollbackTopic (default "mdk.rollback") as JSON.
func New(core *mdk.Core, cfg Config, log *zap.Logger) (*Daemon, error) {
	if cfg.RollbackTopic == "" {
		cfg.RollbackTopic = "mdk.rollback"
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Daemon{core: core, cfg: cfg, log: log, relayers: make(map[*websocket.Conn]struct{})}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		d.nc = nc
	}
	return d, nil
}

// Close releases the NATS connection, if one was established.
func (d *Daemon) Close() {
	if d.nc != nil {
		d.nc.Close()
	}
}

// OnRollback implements callback.Callbacks: it publishes the rollback
// to NATS (if configured) and logs it either way. Wire this as the
// mdk.Core's Callback, or compose it with another Callbacks via a
// small fan-out wrapper if the host needs more than one listener.
func (d *Daemon) OnRollback(info callback.RollbackInfo) {
	d.log.Info("rollback",
		zap.String("nostr_group_id", fmt.Sprintf("%x", info.NostrGroupID)),
		zap.Uint64("target_epoch", info.TargetEpoch),
		zap.Int("invalidated", len(info.InvalidatedMessages)),
		zap.Int("needs_refetch", len(info.MessagesNeedingRefetch)),
	)
	if d.nc == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		d.log.Warn("marshal rollback for nats", zap.Error(err))
		return
	}
	if err := d.nc.Publish(d.cfg.RollbackTopic, data); err != nil {
		d.log.Warn("publish rollback to nats", zap.Error(err))
	}
}

var _ callback.Callbacks = (*Daemon)(nil)

// Router builds the chi mux: a /healthz liveness check, plus a debug relay
// feed at /ws that a real relay subscription would occupy. The core
// never touches this directly — a real host reads unwrapped gift-wrap
// rumors off a relay connection like this one and hands the plaintext
// envelope to mdk.Core.ProcessMessage itself.
func (d *Daemon) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", d.handleHealthz)
	r.Get("/ws", d.handleRelayFeed)
	return r
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handleRelayFeed accepts a websocket connection and holds it open,
// standing in for a subscription to an actual Nostr relay. It never
// parses frames into core types itself; a production host would do
// that translation and call into mdk.Core from here.
func (d *Daemon) handleRelayFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		d.log.Warn("accept relay feed websocket", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	d.mu.Lock()
	d.relayers[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.relayers, conn)
		d.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// ListenAndServe runs the status/debug HTTP server until ctx is done.
func ListenAndServe(ctx context.Context, d *Daemon) error {
	srv := &http.Server{Addr: d.cfg.Addr, Handler: d.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
