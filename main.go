package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jmfields/cowrite/crdt"
	"github.com/jmfields/cowrite/persist"
	"github.com/jmfields/cowrite/presence"
	"github.com/jmfields/cowrite/relay"
	"github.com/jmfields/cowrite/server"
	"github.com/jmfields/cowrite/store"
)

func main() {
	addr := flag.String("addr", envOr("COWRITE_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres", envOr("COWRITE_POSTGRES_DSN", ""), "Postgres DSN for snapshot storage")
	firestoreProject := flag.String("firestore-project", envOr("COWRITE_FIRESTORE_PROJECT", ""), "GCP project for Firestore snapshot storage")
	redisAddr := flag.String("redis", envOr("COWRITE_REDIS_ADDR", ""), "Redis address for cross-instance presence relay")
	devToken := flag.String("dev-token", envOr("COWRITE_DEV_TOKEN", ""), "session token accepted for a development user")
	flag.Parse()

	ctx := context.Background()

	snapshots, cleanup, err := selectStore(ctx, *postgresDSN, *firestoreProject)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	tracker := presence.NewTracker(presence.Config{})

	binders := persist.NewManager(snapshots, func(string) (crdt.Document, error) {
		return crdt.NewAutomergeDocument(), nil
	}, persist.Config{})

	docs := server.NewMemoryDirectory()
	docs.Put(server.Document{
		ID:        "welcome",
		Title:     "Welcome",
		UpdatedAt: time.Now(),
		Content:   json.RawMessage(`{"type":"doc","content":[]}`),
	})

	sessions := server.StaticResolver{}
	if *devToken != "" {
		sessions[*devToken] = server.Identity{UserID: "dev-user", Name: "Dev User"}
		log.Printf("Accepting development session token")
	}

	gateway := server.NewGateway(tracker, sessions, docs, binders)
	handler := server.NewHandler(gateway, snapshots)

	var bridge *relay.Bridge
	if *redisAddr != "" {
		bridge = relay.NewBridge(redis.NewClient(&redis.Options{Addr: *redisAddr}), tracker)
		bridge.Run(ctx)
		log.Printf("Relaying presence via redis at %s", *redisAddr)
	}

	srv := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		log.Printf("Starting server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	if bridge != nil {
		bridge.Close()
	}
	binders.Shutdown(shutdownCtx)
}

// selectStore picks the snapshot backend: Postgres, then Firestore,
// then in-memory.
func selectStore(ctx context.Context, postgresDSN, firestoreProject string) (store.SnapshotStore, func(), error) {
	if postgresDSN != "" {
		pool, err := pgxpool.New(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Printf("Snapshots stored in Postgres")
		return s, pool.Close, nil
	}
	if firestoreProject != "" {
		client, err := firestore.NewClient(ctx, firestoreProject)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Snapshots stored in Firestore project %s", firestoreProject)
		return store.NewFirestoreStore(client), func() { client.Close() }, nil
	}
	log.Printf("Snapshots stored in memory")
	return store.NewMemoryStore(), func() {}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
