package main

import (
	"context"
	"crypto/subtle"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinicdesk/internal/blob"
	"clinicdesk/internal/broadcast"
	"clinicdesk/internal/config"
	"clinicdesk/internal/httpapi"
	"clinicdesk/internal/hub"
	"clinicdesk/internal/models"
	"clinicdesk/internal/store/postgres"
	"clinicdesk/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("clinic-desk")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	visitStore := postgres.NewStore(pool)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := visitStore.InitSchema(ctx); err != nil {
		cancel()
		log.Fatalf("init schema: %v", err)
	}
	cancel()

	var uploader blob.Uploader
	if cfg.S3Bucket != "" {
		s3Uploader, err := blob.NewS3Uploader(context.Background(), blob.S3Config{
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("blob store: %v", err)
		}
		uploader = s3Uploader
	}

	h := hub.New()
	handler := httpapi.NewHandler(visitStore, uploader, httpapi.Options{
		ChatHistoryLimit: cfg.ChatHistoryLimit,
		UploadMaxBytes:   cfg.UploadMaxBytes,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		if !accessCodeOK(cfg.AccessCode, req) {
			_ = session.Close(4001, "missing or wrong access code")
			return
		}

		client := &hub.Client{ID: uuid.NewString(), Role: roleFromRequest(req), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateRole(client, "")
				continue
			}
			if role := validRole(parsed.Role); role != "" {
				h.UpdateRole(client, role)
			}
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(
		httpapi.LoggingMiddleware(httpapi.AccessCodeMiddleware(cfg.AccessCode, limiter.Middleware(mux))),
		"clinic-desk",
	)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	broadcaster := broadcast.New(visitStore, h, broadcast.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BroadcastBatchSize,
	})
	runCtx, stopBroadcast := context.WithCancel(context.Background())
	go broadcaster.Run(runCtx)

	go func() {
		log.Printf("clinic-desk listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopBroadcast()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// The realtime endpoint cannot carry headers through every sockjs
// transport, so the code also rides the query string.
func accessCodeOK(code string, r *http.Request) bool {
	if code == "" {
		return true
	}
	if r == nil {
		return false
	}
	supplied := bearerToken(r.Header.Get("Authorization"))
	if supplied == "" {
		supplied = strings.TrimSpace(r.URL.Query().Get("access_code"))
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(code)) == 1
}

func roleFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return validRole(r.URL.Query().Get("role"))
}

func validRole(role string) string {
	switch strings.TrimSpace(role) {
	case models.RoleDoctor, models.RoleSecretary, models.RoleDisplay:
		return strings.TrimSpace(role)
	}
	return ""
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
