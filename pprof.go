package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
)

// 访问/debug/pprof/进入pprof实时分析页面，/metrics为prometheus指标
func newHTTPDebugger(addr string, metrics http.Handler, server *PathServer) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if server != nil {
		r.HandleFunc("/healthz", server.healthz).Methods(http.MethodGet)
	}
	return &http.Server{Addr: addr, Handler: r}
}
