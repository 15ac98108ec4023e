// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/callsignal/logger"
	"github.com/mattermost/callsignal/service/api"
	"github.com/mattermost/callsignal/service/auth"
	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/perf"
	"github.com/mattermost/callsignal/service/relay"
	"github.com/mattermost/callsignal/service/store"
	"github.com/mattermost/callsignal/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "callsignald"

type Service struct {
	cfg          Config
	apiServer    *api.Server
	wsServer     *ws.Server
	hub          *relay.Hub
	calls        *calls.Service
	store        store.Store
	auth         *auth.Service
	sessionCache *auth.SessionCache
	metrics      *perf.Metrics
	log          *mlog.Logger
	procFS       procfs.FS
}

func New(cfg Config) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		metrics: perf.NewMetrics(metricsNamespace, nil),
	}

	var err error
	s.log, err = logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	s.procFS, err = procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}

	s.store, err = store.New(cfg.Store.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	s.log.Info("initiated data store", mlog.String("DataSource", cfg.Store.DataSource))

	s.sessionCache, err = auth.NewSessionCache(cfg.API.Security.SessionCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	s.auth, err = auth.NewService(s.store, s.sessionCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	s.apiServer, err = api.NewServer(cfg.API.HTTP, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.wsServer, err = ws.NewServer(cfg.Relay.WS, s.log, ws.WithAuthCb(s.wsAuthHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to create ws server: %w", err)
	}

	s.hub, err = relay.NewHub(cfg.Relay, s.wsServer, s.log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay hub: %w", err)
	}

	s.calls, err = calls.NewService(cfg.Calls, s.store, s.log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create calls service: %w", err)
	}

	s.apiServer.RegisterHandleFunc("/version", s.getVersion)
	s.apiServer.RegisterHandleFunc("/system", s.getSystemInfo)
	s.apiServer.RegisterHandleFunc("/stats", s.getStats)
	s.apiServer.RegisterHandleFunc("GET /stats/rooms/{room}", s.getRoomMembers)
	s.apiServer.RegisterHandleFunc("/register", s.registerClient)
	s.apiServer.RegisterHandleFunc("/unregister", s.unregisterClient)
	s.apiServer.RegisterHandleFunc("/login", s.loginClient)
	s.apiServer.RegisterHandler("/metrics", s.metrics.Handler())
	s.apiServer.RegisterHandler("/ws", s.wsServer)
	s.calls.RegisterHandlers(s.apiServer, s.clientAuthHandler)

	return s, nil
}

func (s *Service) Start() error {
	s.log.Info("callsignald: starting", getVersionInfo().logFields()...)

	if err := s.calls.Start(); err != nil {
		return fmt.Errorf("failed to start calls service: %w", err)
	}

	s.hub.Start()

	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	s.log.Info("callsignald: listening", mlog.String("addr", s.apiServer.Addr()))

	return nil
}

// Stop shuts down every component. Once the relay has stopped routing,
// the HTTP listener and the retention job are stopped concurrently and
// the store is closed last.
func (s *Service) Stop() error {
	s.log.Info("callsignald: shutting down")

	s.hub.Stop()
	s.wsServer.Close()

	var g errgroup.Group
	g.Go(func() error {
		if err := s.apiServer.Stop(); err != nil {
			return fmt.Errorf("failed to stop API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.calls.Stop()
		return nil
	})
	err := g.Wait()

	if closeErr := s.store.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close store: %w", closeErr)
	}

	if shutdownErr := s.log.Shutdown(); shutdownErr != nil && err == nil {
		err = fmt.Errorf("failed to shutdown logger: %w", shutdownErr)
	}

	return err
}
