package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
)

const (
	heartbeatInterval  = 10 * time.Second
	maxConnectAttempts = 31
)

// Broker describes the durable subscription: the client id and
// subscription name must stay stable so the broker retains messages
// across reconnects.
type Broker struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Destination  string `yaml:"destination"`
	Subscription string `yaml:"subscription"`
}

type Ingester struct {
	DB     *sql.DB
	Broker Broker
	Log    *zap.Logger
}

// quadraticBackOff sleeps n² seconds before attempt n+1, giving up after a
// bounded number of attempts.
type quadraticBackOff struct {
	attempt int
}

func (b *quadraticBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= maxConnectAttempts {
		return backoff.Stop
	}
	return time.Duration(b.attempt*b.attempt) * time.Second
}

func (b *quadraticBackOff) Reset() {
	b.attempt = 0
}

// Run consumes the feed until the context is cancelled or reconnection
// attempts are exhausted.
func (i *Ingester) Run(ctx context.Context) error {
	for {
		conn, sub, err := i.connect(ctx)
		if err != nil {
			i.Log.Error("connection attempts exhausted", zap.Error(err))
			return err
		}

		err = i.consume(ctx, conn, sub)
		conn.Disconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.Log.Error("disconnected", zap.Error(err))
	}
}

func (i *Ingester) connect(ctx context.Context) (*stomp.Conn, *stomp.Subscription, error) {
	var conn *stomp.Conn
	var sub *stomp.Subscription

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		i.Log.Info("connecting", zap.Int("attempt", attempt), zap.String("addr", i.Broker.Addr))

		c, err := stomp.Dial("tcp", i.Broker.Addr,
			stomp.ConnOpt.Login(i.Broker.Username, i.Broker.Password),
			stomp.ConnOpt.HeartBeat(heartbeatInterval, heartbeatInterval),
			stomp.ConnOpt.Header("client-id", i.Broker.Username))
		if err != nil {
			i.Log.Warn("connect failed", zap.Error(err))
			return err
		}

		s, err := c.Subscribe(i.Broker.Destination, stomp.AckClientIndividual,
			stomp.SubscribeOpt.Id("1"),
			stomp.SubscribeOpt.Header("activemq.subscriptionName", i.Broker.Subscription))
		if err != nil {
			i.Log.Warn("subscribe failed", zap.Error(err))
			c.Disconnect()
			return err
		}

		conn, sub = c, s
		i.Log.Info("connected")
		return nil
	}, backoff.WithContext(&quadraticBackOff{}, ctx))
	if err != nil {
		return nil, nil, err
	}
	return conn, sub, nil
}

func (i *Ingester) consume(ctx context.Context, conn *stomp.Conn, sub *stomp.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return stomp.ErrClosedUnexpectedly
			}
			if msg.Err != nil {
				return msg.Err
			}
			if err := conn.Ack(msg); err != nil {
				return err
			}
			if err := i.processFrame(msg.Body); err != nil {
				return err
			}
		}
	}
}

// processFrame applies one broker frame (a JSON array of messages) in a
// single transaction. A bad element is logged and skipped; the rest of the
// frame still commits.
func (i *Ingester) processFrame(body []byte) error {
	var messages []Message
	if err := json.Unmarshal(body, &messages); err != nil {
		i.Log.Error("undecodable frame", zap.Error(err))
		return nil
	}

	tx, err := i.DB.Begin()
	if err != nil {
		return err
	}
	for _, msg := range messages {
		// A savepoint per element so one bad message can't poison the
		// rest of the frame.
		if _, err := tx.Exec("SAVEPOINT element"); err != nil {
			tx.Rollback()
			return err
		}
		if err := i.handle(tx, msg); err != nil {
			i.Log.Error("message failed",
				zap.String("msg_type", msg.Header.MsgType),
				zap.String("trust_id", msg.Body.TrustID()),
				zap.Error(err))
			if _, err := tx.Exec("ROLLBACK TO SAVEPOINT element"); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		if _, err := tx.Exec("RELEASE SAVEPOINT element"); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
