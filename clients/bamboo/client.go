// Package bamboo mines against a bamboo node over its HTTP API. There is no
// pool: the node is polled for new blocks and solved blocks are posted back.
package bamboo

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms/sha256bmb"
	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	Scheme = "bamboo"

	PollInterval   = 500 * time.Millisecond
	requestTimeout = 10 * time.Second

	JobName      = "Block"
	SolutionName = "Block"
)

// MiningProblem is the /mine response.
type MiningProblem struct {
	ChallengeSize uint32 `json:"challengeSize"`
	LastHash      string `json:"lastHash"`
	LastTimestamp string `json:"lastTimestamp"`
	MiningFee     uint64 `json:"miningFee"`
}

// Client polls one node.
type Client struct {
	*clients.BaseClient
	base         string
	algo         string
	http         *http.Client
	PollInterval time.Duration
	Now          func() time.Time

	mu      sync.Mutex
	height  uint32
	problem *MiningProblem
	pending []Transaction
	block   *Block
}

func NewClient(args clients.ClientArgs) (*Client, error) {
	u, err := url.Parse(args.Pool.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != Scheme || u.Host == "" {
		return nil, fmt.Errorf("not a %s url: %q", Scheme, args.Pool.URL)
	}
	if _, err := wallet(args.Pool.User); err != nil {
		return nil, err
	}
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	args.Logger = args.Logger.Named("bamboo")
	algo := args.Pool.Algo
	if algo == "" {
		algo = sha256bmb.Name
	}
	return &Client{
		BaseClient:   clients.NewBaseClient(args),
		base:         "http://" + u.Host,
		algo:         algo,
		http:         &http.Client{Timeout: requestTimeout},
		PollInterval: PollInterval,
		Now:          time.Now,
	}, nil
}

// wallet decodes a payout identity into its 25 byte address.
func wallet(user string) ([]byte, error) {
	b, err := hex.DecodeString(user)
	if err != nil || len(b) != WalletSize {
		return nil, fmt.Errorf("%w: want %d hex encoded bytes", clients.ErrInvalidUser, WalletSize)
	}
	return b, nil
}

func (sc *Client) SolutionName() string { return SolutionName }

// Run polls the node until the retry ceiling is reached or ctx is done.
// Failed polls keep the current job.
func (sc *Client) Run(ctx context.Context) error {
	logger := sc.Logger()
	sc.SetState(types.Connecting)
	logger.Info("Polling node", zap.String("node", sc.base))
	t := time.NewTicker(sc.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			sc.SetState(types.Disconnected)
			sc.PublishStop()
			return ctx.Err()
		case <-t.C:
		}
		err := sc.poll(ctx)
		if err == nil {
			sc.ResetRetries()
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		exhausted := sc.Failure()
		logger.Warn("ERR_CONN_FAILED",
			zap.String("node", sc.base),
			zap.Uint32("retries", sc.GetPoolStats().Retries),
			zap.String("fault", string(types.KindOf(err))),
			zap.Error(err))
		if exhausted {
			sc.SetState(types.Disconnected)
			sc.PublishStop()
			return fmt.Errorf("%s: %w", sc.base, clients.ErrRetriesExhausted)
		}
		if err := clients.Sleep(ctx, sc.Backoff()); err != nil {
			continue
		}
	}
}

func (sc *Client) poll(ctx context.Context) error {
	body, err := sc.get(ctx, "/block_count")
	if err != nil {
		return err
	}
	var height uint32
	if err := sonic.Unmarshal(body, &height); err != nil {
		return types.ProtocolFault("block_count", err)
	}
	if sc.PoolConnectionStates() == types.Connecting {
		sc.SetState(types.Authorized)
	}

	sc.mu.Lock()
	seen := sc.height
	sc.mu.Unlock()
	if height <= seen {
		return nil
	}

	body, err = sc.get(ctx, "/mine")
	if err != nil {
		return err
	}
	var problem MiningProblem
	if err := sonic.Unmarshal(body, &problem); err != nil {
		return types.ProtocolFault("mine", err)
	}

	var pending []Transaction
	if body, err := sc.get(ctx, "/gettx"); err != nil {
		sc.Logger().Info("Transactions failed", zap.Error(err))
	} else {
		pending = ParseTransactions(body)
	}

	sc.mu.Lock()
	sc.height = height
	sc.problem = &problem
	sc.pending = pending
	sc.mu.Unlock()
	return sc.announce()
}

// announce builds the block for the stored problem and publishes its job.
func (sc *Client) announce() error {
	sc.mu.Lock()
	height, problem, pending := sc.height, sc.problem, sc.pending
	sc.mu.Unlock()
	if problem == nil {
		return nil
	}

	to, err := wallet(sc.Identity())
	if err != nil {
		return err
	}
	rewardTime, err := strconv.ParseUint(problem.LastTimestamp, 10, 64)
	if err != nil {
		return types.ProtocolFault("mine", fmt.Errorf("lastTimestamp %q: %v", problem.LastTimestamp, err))
	}
	lastHash, err := hex.DecodeString(problem.LastHash)
	if err != nil {
		return types.ProtocolFault("mine", fmt.Errorf("lastHash %q: %v", problem.LastHash, err))
	}

	txs := make([]Transaction, 0, len(pending)+1)
	txs = append(txs, pending...)
	txs = append(txs, Transaction{
		To:               to,
		Amount:           problem.MiningFee,
		Timestamp:        rewardTime,
		IsTransactionFee: true,
	})
	block := &Block{
		ID:            height + 1,
		Timestamp:     uint64(sc.Now().Unix()),
		ChallengeSize: problem.ChallengeSize,
		LastHash:      lastHash,
		RootHash:      MerkleRoot(txs),
		Transactions:  txs,
	}

	sc.mu.Lock()
	sc.block = block
	sc.mu.Unlock()

	sc.Logger().Debug("New block",
		zap.Uint32("block", block.ID),
		zap.Uint32("difficulty", block.ChallengeSize),
		zap.Int("transactions", len(txs)))
	sc.SetState(types.Active)
	nonce := block.Nonce()
	sc.PublishJob(&types.Job{
		Kind:       types.NewJob,
		ID:         strconv.FormatUint(uint64(block.ID), 10),
		Name:       JobName,
		Target:     nonce,
		Difficulty: float64(block.ChallengeSize),
		Algo:       sc.algo,
	})
	return nil
}

func (sc *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := sc.http.Do(req)
	if err != nil {
		return nil, types.TransportFault(path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.TransportFault(path, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, types.TransportFault(path, fmt.Errorf("status %s", resp.Status))
	}
	return body, nil
}

// Submit posts the solved block. A successful post idles the workers until
// the next block is announced. A block the node never received counts as
// rejected; the cause is only logged.
func (sc *Client) Submit(ctx context.Context, sol types.JobSolution) (types.SubmitResult, error) {
	done := sc.BeginSubmit()
	defer done()

	sc.mu.Lock()
	block := sc.block
	sc.mu.Unlock()
	if block == nil {
		return sc.refused(clients.ErrNoJob), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.base+"/submit", bytes.NewReader(block.MarshalBinary(sol.Solution)))
	if err != nil {
		return sc.refused(err), nil
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := sc.http.Do(req)
	if err != nil {
		return sc.refused(types.TransportFault("submit", err)), nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return sc.Settle(types.Rejected), nil
	}
	sc.mu.Lock()
	if sc.block == block {
		sc.block = nil
	}
	sc.mu.Unlock()
	sc.PublishStop()
	return sc.Settle(types.Accepted), nil
}

func (sc *Client) refused(err error) types.SubmitResult {
	sc.Logger().Warn("Block submit failed", zap.String("node", sc.base), zap.Error(err))
	return sc.Settle(types.Rejected)
}

// SwitchIdentity rebuilds the current block with the reward paid to user.
func (sc *Client) SwitchIdentity(user string) {
	if _, err := wallet(user); err != nil {
		sc.Logger().Error("Identity not switched", zap.Error(err))
		return
	}
	if !sc.SetIdentity(user) || sc.CurrentJob() == nil {
		return
	}
	if err := sc.announce(); err != nil {
		sc.Logger().Warn("Re-announce failed", zap.Error(err))
	}
}
