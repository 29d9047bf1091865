// Package node is the service manager: it wires the store, event bus, task
// pool, materializer workers, schema provider, replication engine, GraphQL
// gateway, and blob/GraphQL HTTP servers into one process, and fans a single
// context cancellation out to every subsystem on shutdown.
//
// Grounded on the teacher's cmd/agent-controller/main.go signal-driven
// lifecycle (a background context canceled from a SIGINT/SIGTERM handler,
// every subsystem started off that one context) generalized from a single
// polling loop to the node's full subsystem graph.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/p2panda-go/bamboo-node/internal/blobserver"
	"github.com/p2panda-go/bamboo-node/internal/config"
	"github.com/p2panda-go/bamboo-node/internal/eventbus"
	"github.com/p2panda-go/bamboo-node/internal/graphqlapi"
	"github.com/p2panda-go/bamboo-node/internal/identity"
	"github.com/p2panda-go/bamboo-node/internal/materializer"
	"github.com/p2panda-go/bamboo-node/internal/publish"
	"github.com/p2panda-go/bamboo-node/internal/replication"
	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/store/sqlite"
	"github.com/p2panda-go/bamboo-node/internal/tasks"
	"github.com/p2panda-go/bamboo-node/internal/telemetry"
	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// Node owns every subsystem's lifetime for one running process.
type Node struct {
	cfg   *config.Config
	store *sqlite.Store
	bus   *eventbus.Bus
	pool  *tasks.Pool

	provider *schemaprovider.Provider
	publish  *publish.Path
	gateway  *graphqlapi.Gateway
	engine   *replication.Engine

	httpServer *http.Server

	telemetry *telemetry.Providers

	errCh chan error
}

// New assembles a Node from cfg, a node identity, and a peer transport. The
// transport is supplied by the caller (cmd/bambood) rather than constructed
// here: libp2p swarm bootstrapping is conventional glue outside this
// package's scope, same as spec.md §1 leaves it to its own layer.
func New(ctx context.Context, cfg *config.Config, id *identity.Identity, tr transport.Transport) (*Node, error) {
	st, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("node: opening store: %w", err)
	}

	providers, err := telemetry.Setup(ctx, "bamboo-node", "")
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node: setting up telemetry: %w", err)
	}

	allowList := schemaprovider.NewAllowList(cfg.SupportedSchemaIDs)
	provider := schemaprovider.New(allowList)

	bus := eventbus.New()
	path := publish.New(st, provider, bus)
	pool := tasks.New(st)

	registerWorkers(pool, st, provider, cfg)
	bus.Register(materializer.NewEnqueueHandler(pool))

	builder := graphqlapi.New(st, provider, path, id)
	gateway, err := graphqlapi.NewGateway(builder)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node: building graphql gateway: %w", err)
	}

	schemaCh, unsubscribe := provider.Subscribe(8)
	go rebuildOnSchemaChange(ctx, gateway, schemaCh, unsubscribe)

	engine := replication.New(tr, st, provider, path)

	mux := http.NewServeMux()
	mux.Handle("/graphql", gateway.Handler())
	mux.Handle("/blobs/", blobserver.New(st, cfg.BlobDir).Handler())

	n := &Node{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		pool:     pool,
		provider: provider,
		publish:  path,
		gateway:  gateway,
		engine:   engine,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler: mux,
		},
		telemetry: providers,
		errCh:     make(chan error, 4),
	}
	return n, nil
}

// rebuildOnSchemaChange rebuilds the GraphQL schema every time a new
// application schema is installed (spec.md §4.8 "On startup and on every
// schema_added broadcast, rebuild the GraphQL schema from scratch").
func rebuildOnSchemaChange(ctx context.Context, gw *graphqlapi.Gateway, ch <-chan types.Schema, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := gw.Rebuild(); err != nil {
				log.Printf("node: rebuilding graphql schema: %v", err)
			}
		}
	}
}

// registerWorkers wires the five materializer workers (spec.md §4.4) onto
// pool, each at cfg.WorkerPoolSize concurrency save for schema and blob,
// which run single-threaded to keep install/assembly order deterministic.
func registerWorkers(pool *tasks.Pool, st store.Store, provider *schemaprovider.Provider, cfg *config.Config) {
	m := materializer.New(st)
	schemaWorker := materializer.NewSchemaWorker(st, provider)
	blobWorker := materializer.NewBlobWorker(st, cfg.BlobDir)

	pool.Register(types.WorkerReduce, cfg.WorkerPoolSize, m.Reduce)
	pool.Register(types.WorkerDependency, cfg.WorkerPoolSize, m.Dependency)
	pool.Register(types.WorkerSchema, 1, schemaWorker.Schema)
	pool.Register(types.WorkerPrune, cfg.WorkerPoolSize, m.Prune)
	pool.Register(types.WorkerBlob, 1, blobWorker.Blob)
}

// Start brings every subsystem up and blocks until ctx is canceled or a
// subsystem reports an unrecoverable error, whichever comes first.
func (n *Node) Start(ctx context.Context) error {
	n.pool.OnError(func(err error) {
		select {
		case n.errCh <- err:
		default:
		}
	})
	if err := n.pool.Start(ctx); err != nil {
		return fmt.Errorf("node: starting task pool: %w", err)
	}

	go func() {
		if err := n.engine.Start(ctx); err != nil {
			select {
			case n.errCh <- fmt.Errorf("node: replication engine: %w", err):
			default:
			}
		}
	}()

	go func() {
		if err := n.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case n.errCh <- fmt.Errorf("node: http server: %w", err):
			default:
			}
		}
	}()

	log.Printf("node: listening on %s", n.httpServer.Addr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-n.errCh:
		return err
	}
}

// Shutdown stops every subsystem in dependency order: HTTP first (stop
// accepting new work), then replication, then the task pool, then the
// telemetry exporters, and the store last.
func (n *Node) Shutdown(ctx context.Context) error {
	if err := n.httpServer.Shutdown(ctx); err != nil {
		log.Printf("node: http server shutdown: %v", err)
	}
	if err := n.engine.Shutdown(ctx); err != nil {
		log.Printf("node: replication engine shutdown: %v", err)
	}
	n.pool.Stop(ctx)
	if err := n.telemetry.Shutdown(ctx); err != nil {
		log.Printf("node: telemetry shutdown: %v", err)
	}
	return n.store.Close()
}
