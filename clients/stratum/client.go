// Package stratum implements the stratum+tcp pool client and the line
// delimited JSON transport it shares with the other socket clients.
package stratum

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms/sha256bmb"
	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/zap"
)

const (
	Scheme = "stratum+tcp"

	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
	MethodSubmit        = "mining.submit"

	// AckTimeout is how long a submission waits for its result.
	AckTimeout = 3 * time.Second

	JobName      = "Job"
	SolutionName = "Share"
)

// Client is a stratum pool session.
type Client struct {
	*clients.BaseClient
	address    string
	password   string
	defaultAlg string
	AckTimeout time.Duration

	mu       sync.Mutex
	rpc      *RPCClient
	lastAlgo string

	// pending is the request id of the submission awaiting its ack, 0 when
	// none is.
	ackMu   sync.Mutex
	pending uint64
}

// NewClient validates the pool entry. Nothing is dialled until Run.
func NewClient(args clients.ClientArgs) (*Client, error) {
	u, err := url.Parse(args.Pool.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != Scheme || u.Host == "" {
		return nil, fmt.Errorf("not a %s url: %q", Scheme, args.Pool.URL)
	}
	if args.Pool.User == "" {
		return nil, fmt.Errorf("%w: empty", clients.ErrInvalidUser)
	}
	algo := args.Pool.Algo
	if algo == "" {
		algo = sha256bmb.Name
	}
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	args.Logger = args.Logger.Named("stratum")
	sc := &Client{
		BaseClient: clients.NewBaseClient(args),
		address:    u.Host,
		password:   args.Pool.Pass,
		defaultAlg: algo,
		AckTimeout: AckTimeout,
	}
	sc.SetDifficulty(clients.DefaultFloor)
	return sc, nil
}

func (sc *Client) SolutionName() string { return SolutionName }

// Run connects and reconnects until the retry ceiling is reached.
func (sc *Client) Run(ctx context.Context) error {
	return sc.RunSessions(ctx, sc.session)
}

func (sc *Client) session(ctx context.Context) error {
	logger := sc.Logger()
	logger.Info("Connecting", zap.String("pool", sc.address))
	conn, err := Dial(ctx, sc.address)
	if err != nil {
		return types.TransportFault("dial", err)
	}
	rpc := NewRPCClient(conn, logger)
	rpc.SetNotificationHandler(MethodNotify, sc.handleNotify)
	rpc.SetNotificationHandler(MethodSetDifficulty, sc.handleSetDifficulty)
	rpc.SetResponseHandler(sc.handleResponse)

	sc.setRPC(rpc)
	sc.SetConn(rpc)
	defer sc.setRPC(nil)
	defer rpc.Close()
	stop := context.AfterFunc(ctx, func() { rpc.Close() })
	defer stop()

	if _, err := rpc.Call(MethodSubscribe, nil); err != nil {
		return types.TransportFault("subscribe", err)
	}
	user := sc.Identity()
	if _, err := rpc.Call(MethodAuthorize, []interface{}{user, sc.password}); err != nil {
		return types.TransportFault("authorize", err)
	}
	logger.Info("Connected", zap.String("pool", sc.address), zap.String("user", user))

	return types.TransportFault("read", rpc.Listen())
}

func (sc *Client) setRPC(rpc *RPCClient) {
	sc.mu.Lock()
	sc.rpc = rpc
	sc.mu.Unlock()
}

func (sc *Client) currentRPC() *RPCClient {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.rpc
}

func (sc *Client) handleResponse(method string, msg *Message) {
	logger := sc.Logger()
	switch method {
	case MethodSubscribe:
		if msg.Error != nil {
			logger.Warn("Subscribe refused", zap.Any("error", msg.Error))
			return
		}
		sc.SetState(types.Subscribed)
	case MethodAuthorize:
		if ok, _ := msg.Result.(bool); !ok || msg.Error != nil {
			logger.Error("Authorization failed", zap.String("user", sc.Identity()), zap.Any("error", msg.Error))
			return
		}
		sc.SetState(types.Authorized)
	default:
		if !sc.claimAck(msg.ID) {
			logger.Debug("Discarding stale ack", zap.Uint64p("id", msg.ID), zap.String("method", method))
			return
		}
		if msg.Error != nil {
			sc.Ack(false)
			return
		}
		if ok, isBool := msg.Result.(bool); isBool {
			sc.Ack(ok)
		}
	}
}

// claimAck reports whether id answers the pending submission and clears it.
func (sc *Client) claimAck(id *uint64) bool {
	sc.ackMu.Lock()
	defer sc.ackMu.Unlock()
	if id == nil || sc.pending == 0 || *id != sc.pending {
		return false
	}
	sc.pending = 0
	return true
}

func (sc *Client) clearPending(id uint64) {
	sc.ackMu.Lock()
	if sc.pending == id {
		sc.pending = 0
	}
	sc.ackMu.Unlock()
}

func (sc *Client) handleNotify(params []interface{}) {
	logger := sc.Logger()
	fields, err := StringParams(params)
	if err != nil || len(fields) < 2 {
		logger.Warn("Dropping notify", zap.Error(types.ProtocolFault(MethodNotify, fmt.Errorf("bad params %v", params))))
		return
	}
	nonce, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil || len(nonce) == 0 {
		logger.Warn("Dropping notify", zap.Error(types.ProtocolFault(MethodNotify, fmt.Errorf("bad nonce %q", fields[1]))))
		return
	}
	algo := sc.defaultAlg
	if len(fields) > 2 && fields[2] != "" {
		algo = fields[2]
	}

	sc.mu.Lock()
	changed := sc.lastAlgo != "" && sc.lastAlgo != algo
	sc.lastAlgo = algo
	sc.mu.Unlock()

	sc.ResetRetries()
	sc.SetState(types.Active)

	diff := sc.Difficulty()
	if changed {
		diff = clients.DefaultFloor
		logger.Info("Algorithm changed, difficulty reset", zap.String("algo", algo), zap.Float64("difficulty", diff))
		if cur := sc.CurrentJob(); cur != nil && bytes.Equal(cur.Target, nonce) {
			sc.SwitchAlgorithm(algo, diff)
			return
		}
	}
	logger.Debug("Notify", zap.String("block", fields[0]))
	sc.PublishJob(&types.Job{
		Kind:       types.NewJob,
		ID:         types.ShortID(nonce),
		Name:       JobName,
		Target:     nonce,
		Difficulty: diff,
		Algo:       algo,
	})
}

func (sc *Client) handleSetDifficulty(params []interface{}) {
	if len(params) == 0 {
		return
	}
	diff, err := NumberParam(params[0])
	if err != nil || diff <= 0 {
		sc.Logger().Warn("Dropping set_difficulty", zap.Error(types.ProtocolFault(MethodSetDifficulty, fmt.Errorf("bad difficulty %v", params[0]))))
		return
	}
	if diff == sc.Difficulty() {
		return
	}
	sc.Logger().Info("Pool changed difficulty", zap.Float64("difficulty", diff))
	sc.Retarget(diff)
}

// Submit sends one share and waits for the pool's verdict.
func (sc *Client) Submit(ctx context.Context, sol types.JobSolution) (types.SubmitResult, error) {
	done := sc.BeginSubmit()
	defer done()

	rpc := sc.currentRPC()
	if rpc == nil {
		return types.Timeout, clients.ErrNotConnected
	}
	params := []interface{}{sc.Identity(), BytesToHex(sol.Target), BytesToHex(sol.Solution)}
	// ackMu is held across the write so a fast reply still finds its id.
	sc.ackMu.Lock()
	id, err := rpc.Call(MethodSubmit, params)
	sc.pending = id
	sc.ackMu.Unlock()
	if err != nil {
		return types.Timeout, types.TransportFault("submit", err)
	}
	defer sc.clearPending(id)
	return sc.AwaitAck(ctx, sc.AckTimeout), nil
}

// SwitchIdentity reconnects under user.
func (sc *Client) SwitchIdentity(user string) {
	if sc.SetIdentity(user) {
		sc.ForceReconnect()
	}
}
