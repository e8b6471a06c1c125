package app

import (
	"encoding/json"
	"net/http"

	"duesched/internal/metrics"
	"duesched/internal/observability/pprof"
	logx "duesched/pkg/logx"
)

// diagMux serves /metrics, /healthz, /status and, when enabled, pprof.
func (a *App) diagMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-a.Done():
			http.Error(w, "stopping", http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	})
	mux.HandleFunc("/status", pprof.WithAuth(a.metCfg.Token, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Status())
	}))

	if !a.metCfg.Pprof {
		return mux
	}
	if a.metCfg.Token == "" && !pprof.IsLoopbackAddr(a.metAddr) {
		a.log.Error("pprof refused: non-loopback addr requires metrics.token", logx.String("addr", a.metAddr))
		return mux
	}
	prefix := pprof.Mount(mux, pprof.Options{Token: a.metCfg.Token})
	a.log.Info("pprof enabled", logx.String("prefix", prefix), logx.Bool("token_set", a.metCfg.Token != ""))
	return mux
}
