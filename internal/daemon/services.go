package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// httpServer is the part of *http.Server a supervised listener needs.
type httpServer interface {
	ListenAndServe() error
	ListenAndServeTLS(certFile, keyFile string) error
	Shutdown(ctx context.Context) error
}

// httpService runs an HTTP server under the supervisor tree and shuts it down
// gracefully when the tree stops. With tls set the certificates come from
// the server's TLSConfig.
type httpService struct {
	name    string
	server  httpServer
	tls     bool
	timeout time.Duration
}

func newHTTPService(name string, srv httpServer) *httpService {
	return &httpService{name: name, server: srv, timeout: 10 * time.Second}
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if h.tls {
			err = h.server.ListenAndServeTLS("", "")
		} else {
			err = h.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return h.name }

// stateSaver is satisfied by the manager.
type stateSaver interface {
	SaveState(ctx context.Context) error
}

// snapshotService periodically writes the registry snapshot so a crashed
// daemon can be resumed.
type snapshotService struct {
	saver    stateSaver
	interval time.Duration
	log      *slog.Logger
}

func (s *snapshotService) Serve(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.saver.SaveState(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("periodic state snapshot failed", "error", err)
			}
		}
	}
}

func (s *snapshotService) String() string { return "state-snapshot" }
