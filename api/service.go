package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

type GatewayService struct {
	port    int
	handler http.Handler
	server  *http.Server
	log     logger.Logger
}

// NewGatewayService serves handler on port. A "port" entry in the
// services.yaml block overrides the configured one.
func NewGatewayService(cfg map[string]interface{}, port int, handler http.Handler, log logger.Logger) *GatewayService {
	if cfg != nil {
		switch v := cfg["port"].(type) {
		case int:
			port = v
		case float64:
			port = int(v)
		}
	}
	return &GatewayService{port: port, handler: handler, log: log}
}

func (s *GatewayService) Name() string {
	return "gateway"
}

func (s *GatewayService) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Infof("gateway listening on :%d", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("gateway server failed: %v", err)
		}
	}()
	return nil
}

func (s *GatewayService) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
