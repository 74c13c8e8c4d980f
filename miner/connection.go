package miner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/clients/bamboo"
	"github.com/AGPFMiner/bmbminer/clients/shifu"
	"github.com/AGPFMiner/bmbminer/clients/stratum"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/zap"
)

// DefaultRoundDelay separates two rounds over the pool list.
const DefaultRoundDelay = 5 * time.Second

var (
	ErrUnknownScheme  = errors.New("unsupported pool scheme")
	ErrAllPoolsFailed = errors.New("every pool gave up")
)

// ClientSource yields the client currently serving work, nil between
// sessions.
type ClientSource interface {
	Active() clients.Client
}

type ConnectionArgs struct {
	Pools   []types.Pool
	Jobs    clients.JobSink
	Retries int
	Backoff time.Duration
	// Action is RETRY or SHUTDOWN once every pool has given up.
	Action     string
	RoundDelay time.Duration
	Rates      clients.RateSource
	Agent      string
	Logger     *zap.Logger
}

// ConnectionManager walks the configured pools in order and keeps one
// client running at a time.
type ConnectionManager struct {
	args   ConnectionArgs
	logger *zap.Logger

	mu      sync.RWMutex
	pools   []types.Pool
	clients []clients.Client
	active  int
}

func NewConnectionManager(args ConnectionArgs) *ConnectionManager {
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	if args.RoundDelay == 0 {
		args.RoundDelay = DefaultRoundDelay
	}
	if args.Backoff == 0 {
		args.Backoff = clients.DefaultBackoff
	}
	return &ConnectionManager{
		args:   args,
		logger: args.Logger,
		pools:  args.Pools,
		active: -1,
	}
}

func getClientByPool(pool types.Pool, args clients.ClientArgs, rates clients.RateSource) (clients.Client, error) {
	u, err := url.Parse(pool.URL)
	if err != nil {
		return nil, err
	}
	args.Pool = pool
	switch u.Scheme {
	case stratum.Scheme:
		return stratum.NewClient(args)
	case shifu.Scheme:
		args.Tuner = clients.NewDifficultyController(rates)
		return shifu.NewClient(args)
	case bamboo.Scheme:
		return bamboo.NewClient(args)
	default:
		return nil, fmt.Errorf("%q: %w", pool.URL, ErrUnknownScheme)
	}
}

// SetPools replaces the pool list starting with the next round.
func (cm *ConnectionManager) SetPools(pools []types.Pool) {
	cm.mu.Lock()
	cm.pools = pools
	cm.mu.Unlock()
}

func (cm *ConnectionManager) round() []types.Pool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients = make([]clients.Client, len(cm.pools))
	cm.active = -1
	return cm.pools
}

func (cm *ConnectionManager) setActive(idx int, client clients.Client) {
	cm.mu.Lock()
	if client != nil {
		cm.clients[idx] = client
	}
	cm.active = idx
	cm.mu.Unlock()
}

// Active implements ClientSource.
func (cm *ConnectionManager) Active() clients.Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.active < 0 {
		return nil
	}
	return cm.clients[cm.active]
}

// Run serves the pools round after round until ctx is done, or until a
// round fails and the action is SHUTDOWN.
func (cm *ConnectionManager) Run(ctx context.Context) error {
	for round := 1; ; round++ {
		for i, pool := range cm.round() {
			if err := ctx.Err(); err != nil {
				return err
			}
			client, err := getClientByPool(pool, clients.ClientArgs{
				Jobs:    cm.args.Jobs,
				Retries: cm.args.Retries,
				Backoff: cm.args.Backoff,
				Agent:   cm.args.Agent,
				Logger:  cm.logger.With(zap.String("pool", pool.URL)),
			}, cm.args.Rates)
			if err != nil {
				cm.logger.Error("Invalid pool", zap.String("pool", pool.URL), zap.Error(err))
				continue
			}
			cm.logger.Info("Using pool", zap.String("pool", pool.URL), zap.Int("round", round))
			cm.setActive(i, client)
			err = client.Run(ctx)
			cm.setActive(-1, nil)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cm.logger.Warn("Pool gave up", zap.String("pool", pool.URL), zap.Error(err))
		}
		if err := clients.Sleep(ctx, cm.args.RoundDelay); err != nil {
			return err
		}
		if cm.args.Action != ActionRetry {
			return ErrAllPoolsFailed
		}
	}
}

// Stats reports every client of the current round.
func (cm *ConnectionManager) Stats() []types.PoolStates {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	stats := make([]types.PoolStates, 0, len(cm.clients))
	for i, client := range cm.clients {
		if client == nil {
			continue
		}
		st := client.GetPoolStats()
		st.Active = i == cm.active
		stats = append(stats, st)
	}
	return stats
}
