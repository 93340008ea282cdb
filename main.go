package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sketchboard-server/collab"
	"sketchboard-server/handlers/api/boards"
	"sketchboard-server/handlers/api/generate"
	"sketchboard-server/handlers/api/shares"
	"sketchboard-server/handlers/auth"
	"sketchboard-server/handlers/websocket"
	authMiddleware "sketchboard-server/middleware"
	"sketchboard-server/stores"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store stores.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Token", "session", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// Board routes carry no auth of their own; access is enforced where
	// it matters, at the realtime join.
	r.Get("/allBoards/{identity}", boards.HandleList(store))

	r.Route("/board", func(r chi.Router) {
		r.Get("/{roomId}", boards.HandleGet(store))
		r.Put("/save/{roomId}", boards.HandleSave(store))
		r.Post("/invite", boards.HandleInvite(store))
		r.Delete("/delete/{roomId}", boards.HandleDelete(store))

		r.Post("/share", shares.HandleCreate(store))
		r.Get("/shared/{shareId}", shares.HandleGet(store))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)
		r.Post("/generate", generate.HandleGenerate())
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, registry *collab.Registry) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	registry.Clear()
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	generate.Init()
	store := stores.GetStore()

	registry := collab.NewRegistry()
	coordinator := collab.NewCoordinator(registry, store)

	r := setupRouter(store)

	ioo := websocket.NewServer(coordinator)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, registry)
}
