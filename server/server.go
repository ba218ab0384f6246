// Package server exposes an ordered store over the remoting protocol. The served store
// is the in-memory store wrapped in the corruption guard, so a fault observed while
// serving permanently disables the instance instead of letting silent corruption
// propagate to remote callers.
package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/common"
	"github.com/telekv/telekv/conf"
	"github.com/telekv/telekv/guard"
	"github.com/telekv/telekv/kv"
	"github.com/telekv/telekv/memkv"
	"github.com/telekv/telekv/metrics"
	"github.com/telekv/telekv/metrics/prometheus"
	"github.com/telekv/telekv/remoting"
)

type Server struct {
	lock           sync.Mutex
	conf           conf.Config
	store          kv.KV
	handler        *storeHandler
	remServer      remoting.Server
	metricsFactory metrics.Factory
	healthChecker  *remoting.HealthChecker
	available      common.AtomicBool
	started        bool
}

func NewServer(config conf.Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	guarded := guard.New(memkv.NewStore())
	return newServerWithStore(config, guarded), nil
}

// NewServerWithStore serves an externally supplied store. The caller is responsible for
// wrapping it in a guard if fail-stop behaviour is wanted.
func NewServerWithStore(config conf.Config, store kv.KV) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newServerWithStore(config, store), nil
}

func newServerWithStore(config conf.Config, store kv.KV) *Server {
	handler := newStoreHandler(store)
	remServer := remoting.NewServer(config.ListenAddress)
	handler.registerWith(remServer)
	s := &Server{
		conf:      config,
		store:     store,
		handler:   handler,
		remServer: remServer,
	}
	if config.MetricsEnabled {
		s.metricsFactory = prometheus.NewFactory(config)
	}
	return s
}

func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	if s.metricsFactory != nil {
		if err := s.metricsFactory.Start(); err != nil {
			return err
		}
		openHandles := func() float64 {
			return float64(s.handler.handles.count())
		}
		if err := s.handler.metrics.wire(s.metricsFactory, openHandles); err != nil {
			return err
		}
	}
	if err := s.remServer.Start(); err != nil {
		return err
	}
	// Heartbeat our own listen address so Available reflects whether the serving path
	// actually answers, not just whether Start succeeded
	s.healthChecker = remoting.NewHealthChecker([]string{s.remServer.ListenAddress()},
		s.conf.HeartbeatTimeout, s.conf.HeartbeatInterval)
	s.healthChecker.AddAvailabilityListener(s)
	s.healthChecker.Start()
	s.started = true
	log.Infof("store server listening on %s", s.remServer.ListenAddress())
	return nil
}

func (s *Server) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return nil
	}
	s.healthChecker.Stop()
	s.healthChecker = nil
	s.available.Set(false)
	if err := s.remServer.Stop(); err != nil {
		return err
	}
	if s.metricsFactory != nil {
		if err := s.metricsFactory.Stop(); err != nil {
			return err
		}
	}
	if err := s.store.Close(); err != nil {
		// The store may have been closed over the wire already
		log.Debugf("store close on stop: %v", err)
	}
	s.started = false
	return nil
}

// ListenAddress is the address the remoting server is bound to.
func (s *Server) ListenAddress() string {
	return s.remServer.ListenAddress()
}

// OpenHandles is the number of live iterator handles, used by tests and health checks.
func (s *Server) OpenHandles() int {
	return s.handler.handles.count()
}

// AvailabilityChanged receives the result of the server's own liveness probe.
func (s *Server) AvailabilityChanged(serverAddress string, available bool) {
	s.available.Set(available)
	if available {
		log.Infof("store server %s is answering heartbeats", serverAddress)
	} else {
		log.Warnf("store server %s stopped answering heartbeats", serverAddress)
	}
}

// Available reports whether the last liveness probe got a heartbeat answer.
func (s *Server) Available() bool {
	return s.available.Get()
}
