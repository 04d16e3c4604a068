package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/guseggert/enginermi/rmi"
	"github.com/guseggert/enginermi/worker"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EngineAgent is an HTTP agent that hosts one engine worker.
// Controllers attach over a WebSocket at /rmi; only one controller may be attached at a time.
type EngineAgent struct {
	logger *zap.SugaredLogger
	engine worker.Engine

	heartbeatFailureHandler func()
	heartbeatTimeout        time.Duration
	listenAddr              string
	registry                *prometheus.Registry

	httpServer *http.Server
	rmiServer  *rmi.Server

	ctx       context.Context
	cancel    func()
	closeOnce sync.Once

	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time

	attachMut sync.Mutex
	attached  bool
}

type Option func(a *EngineAgent)

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(a *EngineAgent) {
		a.heartbeatTimeout = d
	}
}

func WithHeartbeatFailureHandler(f func()) Option {
	return func(a *EngineAgent) {
		a.heartbeatFailureHandler = f
	}
}

func WithListenAddr(s string) Option {
	return func(a *EngineAgent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *EngineAgent) {
		a.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *EngineAgent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithMetricsRegistry sets the registry that call metrics are registered with and /metrics serves.
// By default each agent gets its own registry.
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(a *EngineAgent) {
		a.registry = r
	}
}

func HeartbeatFailureExit() {
	fmt.Println("heartbeat failed, exiting")
	os.Exit(1)
}

// NewEngineAgent constructs an agent serving eng.
func NewEngineAgent(eng worker.Engine, opts ...Option) (*EngineAgent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &EngineAgent{
		logger:           logger.Named("engineagent").Sugar(),
		engine:           eng,
		heartbeatTimeout: 1 * time.Minute,
		listenAddr:       "0.0.0.0:8080",
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}

	a.rmiServer = &rmi.Server{
		Log:     a.logger.Named("rmi_server"),
		Metrics: rmi.NewMetrics(a.registry),
	}
	worker.Register(a.rmiServer, eng, a.logger)

	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.GET("/rmi", a.attach)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	a.httpServer = &http.Server{
		Handler: router,
		// hijacked WebSocket conns outlive Close, so tie their contexts to the agent's
		BaseContext: func(net.Listener) context.Context { return a.ctx },
	}
	return a, nil
}

// startHeartbeatCheck starts a goroutine that calls the failure handler once if no heartbeat arrives within the timeout.
func (a *EngineAgent) startHeartbeatCheck() {
	a.heartbeatMut.Lock()
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()

	go func() {
		interval := a.heartbeatTimeout / 10
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
			}

			a.heartbeatMut.Lock()
			lastHeartbeat := a.lastHeartbeat
			a.heartbeatMut.Unlock()

			if lastHeartbeat.Add(a.heartbeatTimeout).Before(time.Now()) {
				a.logger.Warnw("heartbeat timed out", "LastHeartbeat", lastHeartbeat)
				if a.heartbeatFailureHandler != nil {
					a.heartbeatFailureHandler()
				}
				return
			}
		}
	}()
}

func (a *EngineAgent) runHTTPServer() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	a.logger.Infow("serving", "Addr", listener.Addr().String())

	err = a.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run runs the agent and returns once the agent has stopped.
func (a *EngineAgent) Run() error {
	a.startHeartbeatCheck()
	return a.runHTTPServer()
}

func (a *EngineAgent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.heartbeatMut.Lock()
	lastHeartbeat := a.lastHeartbeat
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()
	response := struct {
		LastHeartbeat string
	}{
		LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		a.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// attach serves the controller's invocation channel for as long as its WebSocket stays open.
func (a *EngineAgent) attach(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.attachMut.Lock()
	if a.attached {
		a.attachMut.Unlock()
		a.logger.Debug("rejecting second controller")
		http.Error(w, "a controller is already attached", http.StatusConflict)
		return
	}
	a.attached = true
	a.attachMut.Unlock()

	defer func() {
		a.attachMut.Lock()
		a.attached = false
		a.attachMut.Unlock()
		a.logger.Debug("controller detached")
	}()

	a.logger.Debug("controller attached")
	a.rmiServer.ServeHTTP(w, r)
}

func (a *EngineAgent) Stop() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.httpServer.Close()
	})
	return err
}
