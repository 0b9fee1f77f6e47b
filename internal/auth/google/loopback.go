package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/filedesk/internal/db/models"
)

// LoopbackTimeout is how long a CLI login waits for the browser.
const LoopbackTimeout = 5 * time.Minute

// LoopbackResult is the outcome of a CLI login.
type LoopbackResult struct {
	Account *models.Account
	Err     error
}

// Loopback is a temporary local server that receives one OAuth callback,
// used when linking an account from the command line.
type Loopback struct {
	AuthURL string
	srv     *http.Server
	results chan LoopbackResult
	once    sync.Once
}

// StartLoopback listens on 127.0.0.1:port (0 picks a free port) and returns
// the consent URL to open in a browser.
func (f *Flow) StartLoopback(port int) (*Loopback, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port
	redirect := fmt.Sprintf("http://127.0.0.1:%d%s", actualPort, CallbackPath)

	state, err := f.state.Sign(redirect)
	if err != nil {
		listener.Close()
		return nil, err
	}

	lb := &Loopback{
		AuthURL: f.auth.AuthCodeURL(state, redirect),
		results: make(chan LoopbackResult, 1),
	}

	var received atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if !received.CompareAndSwap(false, true) {
			http.Error(w, "Callback already processed", http.StatusBadRequest)
			return
		}
		acc, status, err := f.handle(r)
		if err != nil {
			renderPage(w, status, pageData{Title: "Login Failed", Message: err.Error()})
		} else {
			renderPage(w, http.StatusOK, pageData{Title: "Login Successful", Success: true, Email: acc.Email, Default: acc.IsDefault})
		}
		lb.results <- LoopbackResult{Account: acc, Err: err}
	})
	lb.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := lb.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[OAuth] Callback server error: %v", err)
		}
	}()
	log.Printf("[OAuth] Callback server listening on port %d", actualPort)
	return lb, nil
}

// Wait blocks until the callback arrives, ctx ends or LoopbackTimeout passes,
// then shuts the server down.
func (lb *Loopback) Wait(ctx context.Context) (*models.Account, error) {
	defer lb.Close()

	timer := time.NewTimer(LoopbackTimeout)
	defer timer.Stop()

	select {
	case res := <-lb.results:
		return res.Account, res.Err
	case <-timer.C:
		return nil, fmt.Errorf("OAuth callback timeout after %v", LoopbackTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the callback server. It is safe to call more than once.
func (lb *Loopback) Close() {
	lb.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lb.srv.Shutdown(ctx); err != nil {
			log.Printf("[OAuth] Error shutting down callback server: %v", err)
		}
	})
}
