package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/world-registry/diddoc"
	"github.com/ruteri/world-registry/httpserver"
	"github.com/ruteri/world-registry/identity"
	"github.com/ruteri/world-registry/interfaces"
	"github.com/ruteri/world-registry/protocol"
)

type Config struct {
	// Address is the public host[:port] the registry is served at.
	Address string

	Repository interfaces.IdentityRepository
	Store      interfaces.ProtocolStore

	Bootstrap identity.BootstrapOptions
	Registrar protocol.Config

	Log *slog.Logger
}

// Service is a started registry.
type Service struct {
	agent    *identity.Agent
	document *diddoc.Document
	handler  *httpserver.Handler
	task     *protocol.Task
	log      *slog.Logger
}

// Start bootstraps the identity, builds the DID document and schedules
// protocol registration. Errors are returned only for steps that must
// complete before serving.
func Start(ctx context.Context, cfg Config) (*Service, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Bootstrap.Log == nil {
		cfg.Bootstrap.Log = log
	}
	if cfg.Registrar.Log == nil {
		cfg.Registrar.Log = log
	}

	agent, err := identity.Bootstrap(ctx, cfg.Address, cfg.Repository, cfg.Store, cfg.Bootstrap)
	if err != nil {
		return nil, fmt.Errorf("identity bootstrap failed: %w", err)
	}

	document, err := diddoc.Build(agent)
	if err != nil {
		return nil, err
	}

	handler, err := httpserver.NewHandler(document, log)
	if err != nil {
		return nil, err
	}

	registrar, err := protocol.NewWorldRegistrar(agent, cfg.Registrar)
	if err != nil {
		return nil, fmt.Errorf("world registry definition unusable: %w", err)
	}

	s := &Service{
		agent:    agent,
		document: document,
		handler:  handler,
		task:     registrar.Start(context.WithoutCancel(ctx)),
		log:      log,
	}
	go s.reportRegistration()

	return s, nil
}

func (s *Service) reportRegistration() {
	state, err := s.task.Wait()
	if err != nil {
		s.log.Error("World registry registration failed, serving without it",
			"state", state.String(),
			"retryable", interfaces.IsRetryable(err),
			"err", err)
		return
	}
	s.log.Info("World registry registration finished", "state", state.String())
}

func (s *Service) Agent() *identity.Agent { return s.agent }

func (s *Service) Document() *diddoc.Document { return s.document }

// Handler returns the HTTP handler serving the DID document.
func (s *Service) Handler() *httpserver.Handler { return s.handler }

// Registration returns the background registration task.
func (s *Service) Registration() *protocol.Task { return s.task }

// Close cancels a pending registration and waits for it to stop.
func (s *Service) Close() {
	s.task.Cancel()
	<-s.task.Done()
}
