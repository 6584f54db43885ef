package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/shikkha/pkg/live/device"
	"github.com/vango-go/shikkha/pkg/live/session"
)

var errLiveEnded = errors.New("live session ended")

func newLiveCmd(opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Talk to the live voice tutor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun && d.devices == nil {
				fake := device.NewFake()
				fake.Cadence = time.Duration(session.DefaultFrameSize) * time.Second / session.DefaultCaptureRate
				d.devices = fake
			}
			a, err := setup(cmd, opts, in, out, errOut, d, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.live(ctx)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "connect with silent fake audio devices")
	return cmd
}

// live runs a session until ctx is done or the session ends on its own.
func (a *app) live(ctx context.Context) error {
	states := a.watchLive()
	if err := a.ctrl.StartLive(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.printLive(gctx, states)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.ctrl.StopLive()
		return nil
	})
	err := g.Wait()
	if errors.Is(err, errLiveEnded) {
		return nil
	}
	return err
}

// liveUntilEnter runs a session from the chat until the learner presses Enter.
func (a *app) liveUntilEnter(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	states := a.watchLive()
	if err := a.ctrl.StartLive(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- a.printLive(ctx, states) }()

	_, err := a.readLine()
	a.ctrl.StopLive()
	cancel()
	<-done
	a.ctrl.OnLiveState(nil)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// liveFeed queues state snapshots for the overlay without ever blocking the
// session. A level-only update replaces the queued snapshot it follows, so
// phase and transcript changes are never lost.
type liveFeed struct {
	mu     sync.Mutex
	queue  []session.LiveState
	notify chan struct{}
}

func newLiveFeed() *liveFeed {
	return &liveFeed{notify: make(chan struct{}, 1)}
}

func (f *liveFeed) push(st session.LiveState) {
	f.mu.Lock()
	if n := len(f.queue); n > 0 && sameView(f.queue[n-1], st) {
		f.queue[n-1] = st
	} else {
		f.queue = append(f.queue, st)
	}
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *liveFeed) drain() []session.LiveState {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queue
	f.queue = nil
	return q
}

// sameView reports whether b differs from a only in input level.
func sameView(a, b session.LiveState) bool {
	return a.Phase == b.Phase && a.UserTranscript == b.UserTranscript && a.AITranscript == b.AITranscript
}

// watchLive starts feeding controller snapshots to a new liveFeed.
func (a *app) watchLive() *liveFeed {
	f := newLiveFeed()
	a.ctrl.OnLiveState(f.push)
	return f
}

// printLive redraws the overlay when the phase or a transcript changes and
// returns errLiveEnded once an opened session is back to idle.
func (a *app) printLive(ctx context.Context, feed *liveFeed) error {
	var last session.LiveState
	started := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-feed.notify:
		}
		for _, st := range feed.drain() {
			if st.Phase == session.PhaseIdle {
				if started {
					fmt.Fprintln(a.out, a.render().Styles.Dim.Render(errLiveEnded.Error()))
					return errLiveEnded
				}
				continue
			}
			started = true
			if sameView(last, st) {
				continue
			}
			last = st
			if view := a.render().Live(st); view != "" {
				fmt.Fprintln(a.out, view)
			}
		}
	}
}
