// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package bulk implements the out-of-band byte channel for transfer jobs.
//
// A client connects, sends the 36 character job id and then, depending on
// the job direction, either receives or sends an 8-byte size prefix
// followed by exactly that many payload bytes. The server drives the job
// through RUN to COMPLETED or ERROR and closes the connection when done.
// Partially received payloads are kept; the job is marked ERROR.
package bulk

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const (
	DefaultWorkers = 3

	// DefaultIdleTimeout bounds a stalled read or write; it scales with the
	// bytes already moved.
	DefaultIdleTimeout = 30 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr string

	// Workers caps concurrently served connections. Further connections
	// wait in the listen backlog.
	Workers int

	// RateLimit caps total payload throughput in bytes per second; zero
	// means unlimited.
	RateLimit int64

	IdleTimeout time.Duration
}

// Server accepts bulk connections and streams job payloads between the
// wire and node storage.
type Server struct {
	cfg     Config
	proc    *transfer.Processor
	nodes   *nodes.Manager
	limiter *rate.Limiter

	ln     net.Listener
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closing atomic.Bool
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a server; call Start to begin accepting.
func NewServer(cfg Config, proc *transfer.Processor, m *nodes.Manager) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		proc:    proc,
		nodes:   m,
		limiter: newLimiter(cfg.RateLimit),
		sem:     make(chan struct{}, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and runs the accept loop in the
// background.
func (s *Server) Start() error {
	ln, err := utils.NewListener(s.cfg.Addr, s.cfg.IdleTimeout)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info().
		Str("addr", ln.Addr().String()).
		Int("workers", s.cfg.Workers).
		Int64("rate_limit", s.cfg.RateLimit).
		Msg("bulk server listening")
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener and every open connection and waits for the
// handlers to return. Jobs interrupted mid-stream end in ERROR.
func (s *Server) Stop() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	logger.Info().Msg("bulk server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var backoff time.Duration
	for {
		// take a worker slot before accepting so a full pool leaves
		// connections queued in the kernel
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}

		conn, err := s.ln.Accept()
		if err != nil {
			<-s.sem
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("bulk accept failed")
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.track(conn, false)
			s.serve(conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		ActiveConnections.Inc()
		return
	}
	delete(s.conns, c)
	ActiveConnections.Dec()
}

// serve handles one connection. The connection is always closed on return.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	ctx := s.ctx
	log := logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	token, err := ReadToken(conn)
	if err != nil {
		log.Debug().Err(err).Msg("bulk handshake failed")
		ConnectionsTotal.WithLabelValues("", "rejected").Inc()
		return
	}
	job, err := s.proc.Get(ctx, token)
	if err != nil {
		log.Info().Err(err).Msg("bulk connection for unknown job")
		ConnectionsTotal.WithLabelValues("", "rejected").Inc()
		return
	}
	log = log.With().Str("job_id", job.ID.String()).Str("direction", string(job.Direction)).Logger()

	switch job.Direction {
	case types.DirectionPullFromStore, types.DirectionPushToStore:
	default:
		_, _ = s.proc.Fail(ctx, job, verrors.UnsupportedDirection(string(job.Direction)))
		log.Warn().Msg("bulk connection for unsupported direction")
		ConnectionsTotal.WithLabelValues(string(job.Direction), "rejected").Inc()
		return
	}

	running, err := s.proc.ModifyState(ctx, job, types.StateRun)
	if err != nil {
		log.Info().Err(err).Msg("bulk job cannot start")
		ConnectionsTotal.WithLabelValues(string(job.Direction), "rejected").Inc()
		return
	}
	job = running

	start := time.Now()
	var n int64
	if job.Direction == types.DirectionPullFromStore {
		n, err = s.send(ctx, conn, job)
	} else {
		n, err = s.receive(ctx, conn, job)
	}
	BytesTotal.WithLabelValues(string(job.Direction)).Add(float64(n))
	StreamDuration.WithLabelValues(string(job.Direction)).Observe(time.Since(start).Seconds())

	if err != nil {
		_, _ = s.proc.Fail(ctx, job, err)
		ConnectionsTotal.WithLabelValues(string(job.Direction), "failed").Inc()
		log.Warn().Err(err).Str("bytes", humanize.Bytes(uint64(n))).Msg("bulk transfer failed")
		return
	}
	if _, err := s.proc.ModifyState(context.WithoutCancel(ctx), job, types.StateCompleted); err != nil {
		log.Error().Err(err).Msg("could not complete bulk job")
		ConnectionsTotal.WithLabelValues(string(job.Direction), "failed").Inc()
		return
	}
	ConnectionsTotal.WithLabelValues(string(job.Direction), "completed").Inc()
	log.Info().
		Str("bytes", humanize.Bytes(uint64(n))).
		Dur("elapsed", time.Since(start)).
		Msg("bulk transfer completed")
}

// send streams the job target to the client after its size prefix.
func (s *Server) send(ctx context.Context, conn net.Conn, job *types.TransferJob) (int64, error) {
	src, err := transfer.OpenSource(ctx, s.nodes, job.Owner, job.Target.Path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if src.Size < 0 {
		return 0, verrors.InvalidArgument("%s is a container; bulk transfers carry data nodes only", job.Target.Path)
	}

	w := throttleWriter(ctx, conn, s.limiter)
	if err := writeSize(w, src.Size); err != nil {
		return 0, verrors.Internal(err, "write size")
	}
	n, err := utils.CopyNPooled(w, src, src.Size)
	if err != nil {
		return n, verrors.Internal(err, "send %s", job.Target.Path)
	}
	return n, nil
}

// receive reads the size prefix and stores exactly that many bytes into
// the job target, creating the data node when absent.
func (s *Server) receive(ctx context.Context, conn net.Conn, job *types.TransferJob) (int64, error) {
	r := throttleReader(ctx, conn, s.limiter)
	size, err := readSize(r)
	if err != nil {
		return 0, verrors.Internal(err, "read size")
	}
	body := &exactReader{r: r, n: size}
	info, err := transfer.StoreInto(ctx, s.nodes, job.Owner, job.Target.Path, body, size, "")
	if err != nil {
		return size - body.n, err
	}
	if body.n > 0 {
		return size - body.n, verrors.Internal(io.ErrUnexpectedEOF, "receive %s", job.Target.Path)
	}
	return info.Size, nil
}
