package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/syndicate/syndicate/server/internal/metrics"
)

// Handler serves one connection and closes it. *dispatch.Dispatcher
// satisfies it.
type Handler interface {
	Serve(conn net.Conn)
}

// Runner is a background loop bound to the listener's lifetime.
// *sweeper.Sweeper satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Options configures connection admission. The zero value admits every
// connection.
type Options struct {
	// MaxConnections caps concurrently served connections. Connections
	// beyond the cap are closed immediately.
	MaxConnections int

	// AcceptRate limits admitted connections per second; AcceptBurst is the
	// bucket size (minimum 1).
	AcceptRate  float64
	AcceptBurst int

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Listener is the protocol server's accept loop.
type Listener struct {
	handler Handler
	sweeper Runner
	opts    Options

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	ln       net.Listener
	stopOnce sync.Once
	stopped  chan struct{}
	conns    sync.WaitGroup
}

// New creates a Listener. sweeper may be nil.
func New(h Handler, sweeper Runner, opts Options) *Listener {
	l := &Listener{
		handler: h,
		sweeper: sweeper,
		opts:    opts,
		stopped: make(chan struct{}),
	}
	if opts.MaxConnections > 0 {
		l.sem = semaphore.NewWeighted(int64(opts.MaxConnections))
	}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return l
}

// Listen binds the TCP socket.
func (l *Listener) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listener: listen %s: %w", addr, err)
	}
	l.Use(ln)
	return nil
}

// Use adopts an already bound socket in place of Listen.
func (l *Listener) Use(ln net.Listener) {
	l.ln = ln
	slog.Info("listener: bound", "addr", ln.Addr().String())
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve starts the sweeper and accepts connections until Stop is called or
// ctx is cancelled. It returns nil on a clean shutdown, after the sweeper
// has stopped and every in-flight connection has been served.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		return errors.New("listener: Serve called before Listen")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if l.sweeper != nil {
			l.sweeper.Run(runCtx)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopped:
		}
	}()

	err := l.acceptLoop()

	cancel()
	<-sweepDone
	l.conns.Wait()
	slog.Info("listener: stopped")
	return err
}

// acceptLoop retries every accept error while the listener is open, so a
// burst that exhausts file descriptors only delays new connections. It
// returns an error only when the socket was closed without Stop.
func (l *Listener) acceptLoop() error {
	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopped:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.Stop()
				return fmt.Errorf("listener: accept: %w", err)
			}
			backoff = nextBackoff(backoff)
			slog.Warn("listener: accept error, retrying", "err", err, "backoff", backoff)
			select {
			case <-l.stopped:
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if !l.admit(conn) {
			continue
		}

		l.conns.Add(1)
		go func() {
			defer l.conns.Done()
			if l.sem != nil {
				defer l.sem.Release(1)
			}
			l.handler.Serve(conn)
		}()
	}
}

// admit applies the rate limit and connection cap, closing conn when it is
// turned away.
func (l *Listener) admit(conn net.Conn) bool {
	reason := ""
	switch {
	case l.limiter != nil && !l.limiter.Allow():
		reason = "rate"
	case l.sem != nil && !l.sem.TryAcquire(1):
		reason = "capacity"
	}
	if reason == "" {
		return true
	}
	slog.Debug("listener: rejecting connection", "remote", conn.RemoteAddr().String(), "reason", reason)
	l.opts.Metrics.RecordRejected(reason)
	conn.Close()
	return false
}

// Stop closes the listening socket. It is safe to call more than once and
// from any goroutine.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		if l.ln != nil {
			l.ln.Close()
		}
	})
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
