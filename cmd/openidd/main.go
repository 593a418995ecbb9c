package main

import (
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/openid/adapters/events"
	"github.com/layer-3/openid/adapters/fetcher"
	"github.com/layer-3/openid/adapters/store"
	"github.com/layer-3/openid/adapters/trust"
	"github.com/layer-3/openid/consumer"
	"github.com/layer-3/openid/server"
	"github.com/layer-3/openid/transport/http"
)

func main() {
	// Get Redis URL from environment
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":9000"
	}

	// op, rp, or both (default)
	mode := os.Getenv("OPENID_MODE")
	if mode == "" {
		mode = "both"
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Fatal("parsing Redis URL")
	}

	redisClient := redis.NewClient(opts)

	// Initialize Watermill Redis publisher
	logger := watermill.NewStdLogger(false, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		log.WithError(err).Fatal("creating Redis publisher")
	}

	assocStore := store.NewRedisStore(redisClient)
	eventPub := events.NewWatermillPublisher(publisher)

	var opHandlers *http.OPHandlers
	if mode == "op" || mode == "both" {
		serverURL := os.Getenv("OPENID_SERVER_URL")
		if serverURL == "" {
			serverURL = "http://localhost:9000/openid"
		}
		authorized := http.AllowIdentities(splitList(os.Getenv("OPENID_AUTHORIZED_IDENTITIES"))...)

		srv := server.New(assocStore, trust.New(), serverURL, server.WithEvents(eventPub))
		opHandlers = http.NewOPHandlers(srv, authorized)
	}

	var rpHandlers *http.RPHandlers
	if mode == "rp" || mode == "both" {
		trustRoot := os.Getenv("OPENID_TRUST_ROOT")
		if trustRoot == "" {
			trustRoot = "http://localhost:9000/"
		}
		returnTo := os.Getenv("OPENID_RETURN_TO")
		if returnTo == "" {
			returnTo = "http://localhost:9000/auth/complete"
		}

		c := consumer.New(assocStore, fetcher.New(), consumer.WithEvents(eventPub))
		rpHandlers = http.NewRPHandlers(c, assocStore, trustRoot, returnTo)
	}

	// Setup Gin router
	router := http.SetupRouter(opHandlers, rpHandlers, assocStore)

	// Start server
	if err := router.Run(listenAddr); err != nil {
		log.WithError(err).Fatal("starting server")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
