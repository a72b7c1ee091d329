package wait

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/hivemq/hivemq-testcontainer/expect"
)

const (
	DefaultMQTTPort      = 1883
	DefaultInitialWait   = 5 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultClientID      = "retry-client"

	maxConnectTimeout = 5 * time.Second
)

// ConnectFunc performs one connect attempt against broker, a URL such as tcp://host:port. A nil
// error means the handshake completed and the session was closed again.
type ConnectFunc func(ctx context.Context, broker, clientID string) error

// MQTTStrategy waits until the broker accepts an MQTT connection.
type MQTTStrategy struct {
	initialWait   time.Duration
	retryInterval time.Duration
	timeout       time.Duration
	port          int
	clientID      string
	connect       ConnectFunc
	logger        *slog.Logger
}

var _ Strategy = (*MQTTStrategy)(nil)

// ForMQTT returns a strategy that first waits for the broker to settle and then retries an MQTT
// CONNECT at a constant interval until one succeeds.
func ForMQTT() *MQTTStrategy {
	return &MQTTStrategy{
		initialWait:   DefaultInitialWait,
		retryInterval: DefaultRetryInterval,
		port:          DefaultMQTTPort,
		clientID:      DefaultClientID,
		connect:       ConnectMQTT,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithInitialWait sets how long to wait before the first attempt. Zero disables it.
func (s *MQTTStrategy) WithInitialWait(d time.Duration) *MQTTStrategy {
	s.initialWait = max(d, 0)
	return s
}

// WithRetryInterval sets the pause between attempts.
func (s *MQTTStrategy) WithRetryInterval(d time.Duration) *MQTTStrategy {
	if d > 0 {
		s.retryInterval = d
	}
	return s
}

// WithTimeout bounds the whole wait, including the initial wait. Without it the wait is bounded
// only by the context passed to the WaitFunc.
func (s *MQTTStrategy) WithTimeout(d time.Duration) *MQTTStrategy {
	s.timeout = max(d, 0)
	return s
}

// WithPort sets the container port the broker listens on.
func (s *MQTTStrategy) WithPort(port int) *MQTTStrategy {
	s.port = port
	return s
}

// WithClientID sets the client identifier used for probe connections.
func (s *MQTTStrategy) WithClientID(id string) *MQTTStrategy {
	s.clientID = id
	return s
}

// WithConnectFunc replaces the function used for a single connect attempt.
func (s *MQTTStrategy) WithConnectFunc(fn ConnectFunc) *MQTTStrategy {
	if fn != nil {
		s.connect = fn
	}
	return s
}

// WithLogger sets the logger for attempt diagnostics.
func (s *MQTTStrategy) WithLogger(logger *slog.Logger) *MQTTStrategy {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *MQTTStrategy) Arm(*expect.Registry) (WaitFunc, func(), error) {
	if s.port <= 0 || s.port > 65535 {
		return nil, nil, fmt.Errorf("invalid mqtt port %d", s.port)
	}
	if s.clientID == "" {
		return nil, nil, errors.New("mqtt client id must not be empty")
	}
	return s.Wait, noop, nil
}

// Wait runs the probe against target.
func (s *MQTTStrategy) Wait(ctx context.Context, target Target) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	logger := s.logger.With(slog.String("logger", "wait"))

	port, err := target.MappedPort(s.port)
	if err != nil {
		return fmt.Errorf("%w: resolve mqtt port %d: %w", ErrNotReady, s.port, err)
	}
	broker := "tcp://" + net.JoinHostPort(target.Host(), strconv.Itoa(port))

	if s.initialWait > 0 {
		timer := time.NewTimer(s.initialWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrNotReady, broker, ctx.Err())
		case <-timer.C:
		}
	}

	var (
		attempts int
		lastErr  error
	)
	backoff := retry.NewConstant(s.retryInterval)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := s.connect(ctx, broker, s.clientID); err != nil {
			lastErr = err
			logger.Debug("mqtt connect attempt failed",
				slog.String("broker", broker),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if lastErr != nil && !errors.Is(err, lastErr) {
			err = multierr.Append(err, lastErr)
		}
		return fmt.Errorf("%w: mqtt connect to %s failed after %d attempts: %w", ErrNotReady, broker, attempts, err)
	}
	logger.Debug("mqtt broker accepted connection", slog.String("broker", broker), slog.Int("attempts", attempts))
	return nil
}

// ConnectMQTT connects to broker with a clean session and disconnects again immediately.
func ConnectMQTT(ctx context.Context, broker, clientID string) error {
	timeout := maxConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// The handshake may still complete; close the session once it does.
		go func() {
			<-token.Done()
			if token.Error() == nil {
				client.Disconnect(0)
			}
		}()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return err
	}
	client.Disconnect(0)
	return nil
}
