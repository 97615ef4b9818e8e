package control

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/sysutil"
)

// RedisConfig configures the optional admin command channel: an
// operator publishes a command string to a Redis channel and every
// node subscribed picks it up, letting an admin kill a session from
// any process without talking to that node's own control port
// directly.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Channel  string
	UseTLS   bool
}

// KillByChannel kills whatever is publishing on channel, with no
// regard to which stream id it currently holds.
type KillByChannel func(channel string)

// KillByStreamID kills the publisher on channel only if its current
// stream id matches streamID exactly, so a stale command issued
// against a since-replaced publisher is a no-op.
type KillByStreamID func(channel, streamID string)

// RunRedisCommandReceiver subscribes to cfg.Channel and dispatches
// admin commands until ctx is cancelled. It never returns on
// connection loss; it logs and retries after a backoff, mirroring the
// reference server's recover-and-reconnect loop.
func RunRedisCommandReceiver(ctx context.Context, cfg RedisConfig, killSession KillByChannel, closeStream KillByStreamID) {
	if cfg.Channel == "" {
		cfg.Channel = "rtmp_commands"
	}
	if cfg.Port == "" {
		cfg.Port = "6379"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	opts := &redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{}
	}

	jitter := sysutil.NewJitter(time.Now().UnixNano())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := receiveOnce(ctx, opts, cfg.Channel, killSession, closeStream); err != nil {
			rlog.Warning("[redis] connection lost: " + err.Error())
			select {
			case <-time.After(jitter.JitteredBackoff(10*time.Second, 0.5)):
			case <-ctx.Done():
				return
			}
		}
	}
}

func receiveOnce(ctx context.Context, opts *redis.Options, channel string, killSession KillByChannel, closeStream KillByStreamID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case error:
				err = x
			default:
				err = errors.New("redis receiver panicked")
			}
		}
	}()

	client := redis.NewClient(opts)
	defer client.Close()

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	rlog.Info("[redis] listening for commands on channel '" + channel + "'")

	for {
		msg, recvErr := sub.ReceiveMessage(ctx)
		if recvErr != nil {
			return recvErr
		}
		dispatchCommand(msg.Payload, killSession, closeStream)
	}
}

// dispatchCommand parses "name>arg1|arg2|..." command strings.
func dispatchCommand(cmd string, killSession KillByChannel, closeStream KillByStreamID) {
	defer func() {
		if r := recover(); r != nil {
			rlog.Warning("[redis] could not parse message: " + cmd)
		}
	}()

	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		rlog.Warning("[redis] invalid message: " + cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			rlog.Warning("[redis] invalid message: " + cmd)
			return
		}
		if killSession != nil {
			killSession(args[0])
		}
	case "close-stream":
		if len(args) < 2 {
			rlog.Warning("[redis] invalid message: " + cmd)
			return
		}
		if closeStream != nil {
			closeStream(args[0], args[1])
		}
	default:
		rlog.Warning("[redis] unknown command: " + name)
	}
}
