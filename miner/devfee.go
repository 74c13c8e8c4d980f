package miner

import (
	"context"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/clients"

	"go.uber.org/zap"
)

const (
	DefaultFeeGrace  = 10 * time.Minute
	DefaultFeePeriod = 60 * time.Minute
)

type FeeState int

const (
	FeeNormal FeeState = iota
	FeeActive
)

func (s FeeState) String() string {
	if s == FeeActive {
		return "FEE_ACTIVE"
	}
	return "NORMAL"
}

type DevFeeArgs struct {
	Identity string
	Grace    time.Duration
	Period   time.Duration
	// Fraction is the share of each period mined for Identity.
	Fraction func() float64
	Clients  ClientSource
	Logger   *zap.Logger
}

// DevFeeScheduler lends the active client to Identity for a slice of every
// period, starting after a grace delay.
type DevFeeScheduler struct {
	args   DevFeeArgs
	logger *zap.Logger

	mu     sync.Mutex
	state  FeeState
	client clients.Client
	saved  string
}

func NewDevFeeScheduler(args DevFeeArgs) *DevFeeScheduler {
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	if args.Grace == 0 {
		args.Grace = DefaultFeeGrace
	}
	if args.Period == 0 {
		args.Period = DefaultFeePeriod
	}
	return &DevFeeScheduler{args: args, logger: args.Logger}
}

func (d *DevFeeScheduler) State() FeeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DevFeeScheduler) feeDuration() time.Duration {
	if d.args.Fraction == nil {
		return 0
	}
	f := d.args.Fraction()
	if f <= 0 {
		return 0
	}
	if f > 1 {
		f = 1
	}
	return time.Duration(float64(d.args.Period) * f)
}

// Run drives the schedule until ctx is done, handing the identity back if
// ctx ends mid-fee.
func (d *DevFeeScheduler) Run(ctx context.Context) {
	if d.args.Identity == "" {
		return
	}
	defer d.stop()
	if clients.Sleep(ctx, d.args.Grace) != nil {
		return
	}
	for {
		fee := d.feeDuration()
		if fee > 0 && d.start(fee) {
			if clients.Sleep(ctx, fee) != nil {
				return
			}
			d.stop()
		} else {
			fee = 0
		}
		if clients.Sleep(ctx, d.args.Period-fee) != nil {
			return
		}
	}
}

func (d *DevFeeScheduler) start(fee time.Duration) bool {
	client := d.args.Clients.Active()
	if client == nil {
		d.logger.Info("Dev fee skipped, no active pool")
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == FeeActive {
		return true
	}
	d.saved = client.Identity()
	d.client = client
	d.state = FeeActive
	client.SwitchIdentity(d.args.Identity)
	d.logger.Info("Dev fee started", zap.Duration("duration", fee), zap.String("state", d.state.String()))
	return true
}

func (d *DevFeeScheduler) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != FeeActive {
		return
	}
	d.client.SwitchIdentity(d.saved)
	d.state = FeeNormal
	d.client = nil
	d.logger.Info("Dev fee stopped", zap.String("state", d.state.String()))
}
