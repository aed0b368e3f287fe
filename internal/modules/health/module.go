package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/modules/health/service"
	"breakout_bot/internal/modules/metrics"
)

type Config struct {
	Addr       string        // например ":8080"
	StatusPush time.Duration // период рассылки в /ws/status
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Service.HealthAddr, StatusPush: cfg.Service.StatusPush}
}

func NewMux(state *service.State, hub *service.Hub, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: оркестратор запущен и фид не остановлен
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := state.Snapshot(time.Now())
		resp := map[string]any{
			"ready":     st.Ready,
			"stopping":  st.Stopping,
			"uptimeSec": st.UptimeSec,
			"feed":      st.Feed,
			"accounts":  countByStatus(st),
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, state.Snapshot(time.Now()).Accounts)
	})

	mux.HandleFunc("/ws/status", hub.ServeWS)
	mux.Handle("/metrics", metrics.Handler(reg))

	return mux
}

func countByStatus(st service.Status) map[string]int {
	out := make(map[string]int, len(st.Accounts))
	for _, a := range st.Accounts {
		out[string(a.Health.Status)]++
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// PushStatus рассылает снимок статуса в websocket раз в period.
func PushStatus(ctx context.Context, state *service.State, hub *service.Hub, period time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg, err := sonic.Marshal(state.Snapshot(now))
			if err != nil {
				log.Error("marshal status", zap.Error(err))
				continue
			}
			hub.Broadcast(msg)
		}
	}
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State, hub *service.Hub, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()

			var pctx context.Context
			pctx, cancel = context.WithCancel(context.Background())
			go PushStatus(pctx, state, hub, cfg.StatusPush, log)
			log.Info("health server listening", zap.String("addr", cfg.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			hub.Close()
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			service.NewHub,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
