package bot

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"Painter/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxUpdateSize = 1 << 20

// Queue accepts messages for asynchronous processing.
type Queue interface {
	Enqueue(chatId int64, text string) bool
}

// Gateway receives platform updates on POST /{token}. Any other path is
// unknown to it.
type Gateway struct {
	token string
	queue Queue
	log   *slog.Logger
}

func NewGateway(token string, queue Queue, log *slog.Logger) *Gateway {
	return &Gateway{
		token: token,
		queue: queue,
		log:   log.With(sl.Module("webhook")),
	}
}

func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Post("/"+g.token, g.handleUpdate)
	return r
}

// handleUpdate always acknowledges; the platform only needs to know the
// update arrived.
func (g *Gateway) handleUpdate(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)
	log := g.log.With(slog.String("request_id", middleware.GetReqID(r.Context())))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateSize))
	if err != nil {
		log.Warn("reading update", sl.Err(err))
		return
	}

	in, ok, err := ParseUpdate(body)
	if err != nil {
		log.Warn("protocol error", sl.Err(err))
		return
	}
	if !ok {
		log.Debug("ignoring update without text")
		return
	}
	if !g.queue.Enqueue(in.ChatId, in.Text) {
		log.With(sl.User(in.ChatId)).Warn("queue full, update dropped")
	}
}

// NewServer builds the TLS server for the webhook.
func NewServer(addr string, handler http.Handler, cert tls.Certificate) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Serve listens with the server's TLS config until Shutdown is called.
func Serve(srv *http.Server) error {
	if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
