package dcp

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	SessionOptions

	// HandshakeTimeout closes the connection if HELLO has not completed.
	// Zero disables the deadline.
	HandshakeTimeout time.Duration

	// ReclaimInterval is how often abandoned streams are reclaimed.
	ReclaimInterval time.Duration
}

const defaultReclaimInterval = 5 * time.Second

// Serve runs one connection until the peer closes it, ctx ends, or a
// transport error occurs. A clean close returns nil.
//
// Frames are read and handled on one goroutine, a second drains the
// stream ring to the writer, and a third reclaims streams whose reader
// went idle. rw is closed on cancellation when it implements io.Closer.
func Serve(ctx context.Context, rw io.ReadWriter, opts ServeOptions) error {
	reader := frame.NewFrameReader(rw)
	writer := frame.NewFrameWriter(rw)
	reader.SetLimits(opts.Limits)
	writer.SetLimits(opts.Limits)

	userHook := opts.OnNegotiated
	opts.OnNegotiated = func(m capability.Manifest, l frame.Limits) {
		reader.SetLimits(l)
		writer.SetLimits(l)
		if userHook != nil {
			userHook(m, l)
		}
	}
	opts.Outbound = writer

	sess, err := NewSession(opts.SessionOptions)
	if err != nil {
		return err
	}
	log := sess.logger

	interval := opts.ReclaimInterval
	if interval <= 0 {
		interval = defaultReclaimInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			f, err := reader.ReadFrame()
			if err != nil {
				if errors.Is(err, io.EOF) || gctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := sess.Receive(gctx, f.Payload); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for {
			ready := sess.ring.Ready()
			if _, err := sess.Flush(); err != nil {
				return err
			}
			select {
			case <-ready:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Reclaim runs apart from Flush, which blocks while the peer is not
	// reading.
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var handshake <-chan time.Time
		if opts.HandshakeTimeout > 0 {
			timer := time.NewTimer(opts.HandshakeTimeout)
			defer timer.Stop()
			handshake = timer.C
		}

		for {
			select {
			case now := <-ticker.C:
				sess.Reclaim(now)
			case <-handshake:
				if _, _, ok := sess.Negotiated(); !ok {
					return ErrHandshakeTimeout
				}
				handshake = nil
			case <-gctx.Done():
				return nil
			}
		}
	})

	if c, ok := rw.(io.Closer); ok {
		g.Go(func() error {
			<-gctx.Done()
			_ = c.Close()
			return nil
		})
	}

	log.Debug().Msg("session started")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("session closed with error")
		return err
	}
	log.Debug().Msg("session closed")
	return nil
}
