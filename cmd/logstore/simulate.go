package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coffersTech/logstore/internal/client"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sampleMessages = map[model.EventType][]string{
	model.EventError: {
		"Sensor read failure",
		"Temperature above critical threshold",
		"Lost connection to controller",
	},
	model.EventInformation: {
		"Device started",
		"Periodic health check passed",
		"Configuration reloaded",
	},
	model.EventWarning: {
		"Battery level low",
		"Signal strength degraded",
		"Clock drift detected",
	},
}

// sender delivers one event for a simulated device.
type sender interface {
	send(ctx context.Context, rec model.LogRecord) error
	close()
}

type wsSender struct{ conn *client.Conn }

func (s wsSender) send(ctx context.Context, rec model.LogRecord) error {
	ack, err := s.conn.Send(ctx, rec)
	if err != nil {
		return err
	}
	return ack.Err()
}

func (s wsSender) close() { s.conn.Close() }

type restSender struct{ c *client.HTTPClient }

func (s restSender) send(ctx context.Context, rec model.LogRecord) error {
	_, err := s.c.Post(ctx, rec)
	return err
}

func (restSender) close() {}

type simulateOptions struct {
	url       string
	transport string
	token     string
	devices   int
	interval  time.Duration
	count     int
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate devices sending random events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.devices < 1 {
				return fmt.Errorf("--devices must be at least 1")
			}
			if opts.transport != "ws" && opts.transport != "rest" {
				return fmt.Errorf("--transport must be ws or rest")
			}
			logger, err := newLogger("info", "text")
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runSimulate(ctx, opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "Server URL: ws://host/ws for ws, http://host for rest")
	f.StringVar(&opts.transport, "transport", "ws", "Transport: ws|rest")
	f.StringVar(&opts.token, "token", "", "Bearer token for the REST endpoint")
	f.IntVar(&opts.devices, "devices", 5, "Number of simulated devices")
	f.DurationVar(&opts.interval, "interval", 5*time.Second, "Interval between events of one device")
	f.IntVar(&opts.count, "count", 0, "Events per device (0 runs until interrupted)")
	return cmd
}

func runSimulate(ctx context.Context, opts simulateOptions, logger logrus.FieldLogger) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := 1; id <= opts.devices; id++ {
		g.Go(func() error {
			return runDevice(ctx, int32(id), opts, logger.WithField("device_id", id))
		})
	}
	return g.Wait()
}

// runDevice waits a random start offset below the device count in seconds, then sends
// one event per interval.
func runDevice(ctx context.Context, id int32, opts simulateOptions, logger logrus.FieldLogger) error {
	delay := time.Duration(rand.IntN(opts.devices)) * time.Second
	logger.WithField("delay", delay.String()).Info("Device scheduled")
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil
	}

	var s sender
	if opts.transport == "rest" {
		s = restSender{c: client.NewHTTPClient(opts.url, opts.token)}
	} else {
		conn, err := client.Dial(ctx, opts.url)
		if err != nil {
			return fmt.Errorf("device %d: %w", id, err)
		}
		s = wsSender{conn: conn}
	}
	defer s.close()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for sent := 0; opts.count == 0 || sent < opts.count; sent++ {
		rec := randomEvent(id)
		if err := s.send(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("Event not accepted")
		} else {
			logger.WithFields(logrus.Fields{
				"event_type": rec.EventType.String(),
				"message":    rec.EventMessage,
			}).Debug("Event sent")
		}

		if opts.count != 0 && sent+1 == opts.count {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func randomEvent(id int32) model.LogRecord {
	t := model.EventType(rand.IntN(3))
	msgs := sampleMessages[t]
	return model.LogRecord{
		DeviceID:     id,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
		EventType:    t,
		EventMessage: msgs[rand.IntN(len(msgs))],
	}
}
