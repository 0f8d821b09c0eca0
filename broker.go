package fitq

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BrokerConfig holds connection settings for the shared Redis broker.
// URL takes precedence over the discrete fields when set.
type BrokerConfig struct {
	// URL is a redis:// connection URL (hosted brokers).
	URL string
	// Addr is a host:port pair used when URL is empty.
	Addr string
	// Password for the broker, if any.
	Password string
	// DB is the logical database index.
	DB int
}

// probeTimeout bounds the liveness ping and any reconnect attempt inside
// Client, detached from the caller's deadline.
const probeTimeout = 2 * time.Second

// Broker is a reconnecting handle to the shared Redis broker. A broker that
// cannot connect is still a valid object: operations observe a nil client and
// report ErrBrokerUnavailable instead of crashing.
type Broker struct {
	mu  sync.Mutex
	cfg BrokerConfig
	rdb *redis.Client
	log Logger
}

// NewBroker builds a broker handle and attempts an initial connection.
// Connection failure at startup is logged, not returned: all dependent
// operations must treat "no client" as a handled case.
func NewBroker(cfg BrokerConfig, log Logger) *Broker {
	if log == nil {
		log = NewFmtLogger()
	}
	b := &Broker{cfg: cfg, log: log}
	b.connect(context.Background())
	return b
}

// connect replaces the internal client. Caller must hold b.mu or be the constructor.
func (b *Broker) connect(ctx context.Context) {
	var rdb *redis.Client
	if b.cfg.URL != "" {
		opt, err := redis.ParseURL(b.cfg.URL)
		if err != nil {
			b.log.Errorf("broker: invalid URL: %v", err)
			return
		}
		opt.DialTimeout = 5 * time.Second
		opt.ReadTimeout = 5 * time.Second
		opt.WriteTimeout = 5 * time.Second
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:         b.cfg.Addr,
			Password:     b.cfg.Password,
			DB:           b.cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		b.log.Errorf("broker: connect failed: %v", err)
		_ = rdb.Close()
		if b.rdb != nil {
			_ = b.rdb.Close()
			b.rdb = nil
		}
		return
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	b.rdb = rdb
	b.log.Infof("broker: connected addr=%s db=%d", b.cfg.Addr, b.cfg.DB)
}

// IsConnected performs a liveness probe. It returns false on any failure and
// never raises.
func (b *Broker) IsConnected(ctx context.Context) bool {
	b.mu.Lock()
	rdb := b.rdb
	b.mu.Unlock()
	if rdb == nil {
		return false
	}
	return rdb.Ping(ctx).Err() == nil
}

// Client returns a live client, transparently reconnecting when the liveness
// probe fails. It returns nil when the broker is unreachable; callers map nil
// to ErrBrokerUnavailable. The probe runs on its own deadline: a caller whose
// context has already expired must not be able to tear down a connection that
// is healthy for everyone else.
func (b *Broker) Client(ctx context.Context) *redis.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()
	if b.rdb != nil && b.rdb.Ping(pctx).Err() == nil {
		return b.rdb
	}
	b.connect(pctx)
	return b.rdb
}

// Close releases the underlying connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rdb == nil {
		return nil
	}
	err := b.rdb.Close()
	b.rdb = nil
	return err
}
