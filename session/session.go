// Package session opens single-purpose associations to remote archives.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"

	"github.com/caio-sobreiro/dicomnode/client"
	"github.com/caio-sobreiro/dicomnode/config"
	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Purpose is the single operation a session is opened for.
type Purpose int

const (
	Echo Purpose = iota
	Query
	Retrieve
	Store
)

func (p Purpose) String() string {
	switch p {
	case Echo:
		return "echo"
	case Query:
		return "query"
	case Retrieve:
		return "retrieve"
	case Store:
		return "store"
	default:
		return "purpose(" + strconv.Itoa(int(p)) + ")"
	}
}

// Address returns host:port for purpose. Echo uses the query/retrieve
// port when that service is enabled, else the store port.
func Address(device types.Device, purpose Purpose) (string, error) {
	var port int
	switch purpose {
	case Query, Retrieve:
		port = device.QueryRetrievePort
	case Store:
		port = device.StorePort
	case Echo:
		switch {
		case device.QueryRetrieveEnabled:
			port = device.QueryRetrievePort
		case device.StoreEnabled:
			port = device.StorePort
		default:
			return "", fmt.Errorf("%w: %s", dicomerrors.ErrNoServiceEnabled, device)
		}
	default:
		return "", fmt.Errorf("unknown session purpose %d", purpose)
	}
	return net.JoinHostPort(device.Address, strconv.Itoa(port)), nil
}

// Session is one negotiated association used for exactly one operation.
type Session struct {
	id       uuid.UUID
	purpose  Purpose
	device   types.Device
	settings config.Settings
	localAE  string
	assoc    *client.Association
	listener net.Listener
	logger   *slog.Logger

	used      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Purpose returns what the session was opened for.
func (s *Session) Purpose() Purpose { return s.purpose }

// Device returns a copy of the remote device.
func (s *Session) Device() types.Device { return s.device }

// Settings returns the settings read when the session was opened.
func (s *Session) Settings() config.Settings { return s.settings }

// LocalAETitle is the calling AE title, also used as move destination.
func (s *Session) LocalAETitle() string { return s.localAE }

// Association returns the negotiated association.
func (s *Session) Association() *client.Association { return s.assoc }

// Listener returns the inbound listener of a retrieve session, nil
// otherwise.
func (s *Session) Listener() net.Listener { return s.listener }

// Logger returns a logger carrying the session ID.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Claim marks the session as used for purpose. A session serves a single
// operation of the purpose it was opened for.
func (s *Session) Claim(purpose Purpose) error {
	if purpose != s.purpose {
		return fmt.Errorf("%w: opened for %s, used for %s", dicomerrors.ErrWrongPurpose, s.purpose, purpose)
	}
	if !s.used.CompareAndSwap(false, true) {
		return dicomerrors.ErrSessionUsed
	}
	return nil
}

// Close releases the association, closes the connection and, for
// retrieve sessions, the listener. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.assoc.Close()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) && s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.logger.Debug("Session closed")
	})
	return s.closeErr
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// WithStoreClasses sets the storage classes proposed by store sessions.
func WithStoreClasses(classes []string) Option {
	return func(n *Negotiator) {
		n.storeClasses = classes
	}
}

// Negotiator opens sessions using the settings current at call time.
type Negotiator struct {
	config       config.Provider
	logger       *slog.Logger
	storeClasses []string
}

// NewNegotiator builds a Negotiator reading settings from provider.
func NewNegotiator(provider config.Provider, opts ...Option) *Negotiator {
	n := &Negotiator{config: provider, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Settings returns the current settings.
func (n *Negotiator) Settings() config.Settings {
	return n.config.Settings()
}

// Open negotiates a session with device for purpose. Retrieve sessions
// open their listener before dialing; a failure at any step releases
// everything acquired so far.
func (n *Negotiator) Open(ctx context.Context, device types.Device, purpose Purpose) (*Session, error) {
	settings := n.config.Settings()
	id := uuid.New()
	logger := n.logger.With(
		"session_id", id.String(),
		"purpose", purpose.String(),
		"device", device.String())

	address, err := Address(device, purpose)
	if err != nil {
		logger.Error("Cannot determine device port", "error", err)
		return nil, err
	}

	proposals, err := Proposals(purpose, n.storeClasses)
	if err != nil {
		logger.Error("Cannot build presentation contexts", "error", err)
		return nil, err
	}

	var listener net.Listener
	if purpose == Retrieve {
		listener, err = listen(settings.ListenPort)
		if err != nil {
			logger.Error("Cannot open incoming port",
				"port", settings.ListenPort,
				"error", err)
			return nil, err
		}
	}

	localAE := device.CallingAETitle
	if localAE == "" {
		localAE = settings.LocalAETitle
	}

	assoc, err := client.Connect(ctx, address, client.Config{
		CallingAETitle: localAE,
		CalledAETitle:  device.AETitle,
		MaxPDULength:   settings.MaxPDULength,
		ConnectTimeout: settings.ConnectionTimeout,
		Timeout:        settings.ConnectionTimeout,
		Logger:         logger,
		Proposals:      proposals,
	})
	if err != nil {
		if listener != nil {
			listener.Close()
		}
		logger.Error("Association failed",
			"address", address,
			"error", err)
		return nil, err
	}

	s := &Session{
		id:       id,
		purpose:  purpose,
		device:   device,
		settings: settings,
		localAE:  localAE,
		assoc:    assoc,
		listener: listener,
		logger:   logger,
	}
	logger.Info("Session opened",
		"address", address,
		"calling_ae", localAE,
		"accepted_contexts", len(assoc.AcceptedContexts()))
	return s, nil
}

func listen(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: port %d: %v", dicomerrors.ErrListenPortInUse, port, err)
		}
		return nil, dicomerrors.NewNetworkError("listen", err)
	}
	return listener, nil
}
