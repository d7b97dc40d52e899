package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

var (
	// 配置信息
	mongoURI     = flag.String("mongo_uri", "", "mongo db uri")
	graphPathStr = flag.String("graph", "", "graph snapshot file or database and collection [format: {fspath} or {db}.{col}]")
	osmFile      = flag.String("osm", "", "import the graph from an OSM PBF extract instead of -graph")
	cacheDir     = flag.String("cache", "", "input cache dir path (empty means disable cache)")
	grpcEndpoint = flag.String("listen", "localhost:52101", "connect listening address")
	logLevel     = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")
	poolSize     = flag.Int("pool-size", 1<<18, "path unit pool capacity")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "localhost:52102", "pprof, metrics and health listening address (empty means disable)")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

var log = logrus.WithField("module", "main")

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}

	graphPath, err := NewPath(*graphPathStr)
	if err != nil {
		log.Fatalf("invalid graph path: %s", err)
	}
	network, err := loadNetwork(*mongoURI, graphPath, *osmFile, *cacheDir)
	if err != nil {
		log.Fatalf("failed to load graph: %v", err)
	}
	// 启动路径搜索服务
	metrics := NewPrometheusObserver()
	server := NewPathServer(network, *poolSize, metrics)

	var debugger *http.Server
	if *pprofAddr != "" {
		debugger = newHTTPDebugger(*pprofAddr, metrics.Handler(), server)
	}

	if *benchmark {
		// 性能测试
		if debugger != nil {
			go debugger.ListenAndServe()
		}
		runBenchmark(server)
		server.Close()
		return
	}

	// 启动tcp监听和初始化connect服务端
	mux := http.NewServeMux()
	mux.Handle(server.Handler())

	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    *grpcEndpoint,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// 优雅退出
	// 监听指定信号 ctrl+c kill
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("server listening at %v", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if debugger != nil {
		g.Go(func() error {
			if err := debugger.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnf("pprof server stopped: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("stopping...")
		stop()
		go func() {
			// 再次收到信号时强制结束
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			<-ch
			os.Exit(1)
		}()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// 退出connect-go
		err := s.Shutdown(shutdownCtx)
		if debugger != nil {
			debugger.Shutdown(shutdownCtx)
		}
		// 退出路径搜索服务
		server.Close()
		return err
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
	log.Info("lanepath closes")
}
