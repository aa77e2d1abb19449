package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/status"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// RunWeb serves the latest tracker status over HTTP and a websocket.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "web")
	store := status.NewStore()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	if err := status.Subscribe(client, cfg.TopicStatus, store.Observe, logger); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           newWebMux(store, cfg.WebStaticDir, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newWebMux(store *status.Store, staticDir string, logger log.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()

	// JSON API endpoint: latest status
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		s, ok := store.Latest()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s); err != nil {
			logger.Warnf("json encode error: %v", err)
		}
	})

	mux.HandleFunc("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		serveStatusWS(w, r, store, logger)
	})

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// serveStatusWS sends the current snapshot, then every new one, until the
// client goes away.
func serveStatusWS(w http.ResponseWriter, r *http.Request, store *status.Store, logger log.FieldLogger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := store.Subscribe()
	defer cancel()

	// Reader goroutine only notices the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s, ok := store.Latest(); ok {
		if err := conn.WriteJSON(s); err != nil {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(s); err != nil {
				logger.Debugf("websocket write error: %v", err)
				return
			}
		}
	}
}
