// Package shifu implements the shifu:// pool client. The pool leaves
// difficulty to the miner, so the client tunes it from the tracked hashrate.
package shifu

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms/sha256bmb"
	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/clients/stratum"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	Scheme = "shifu"
	// UserLength is the only identity length the pool accepts.
	UserLength = 50
	AckTimeout = time.Second
	// BlockhashSize is the length of the decoded Work blockhash.
	BlockhashSize = 32

	JobName      = "Job"
	SolutionName = "Share"
	DefaultAgent = "bmbminer"
)

const (
	typeInitialize   = "Initialize"
	typeWork         = "Work"
	typeNotification = "Notification"
	typePing         = "Ping"
	typePong         = "Pong"
	typeSubmit       = "Submit"
	typeAccept       = "Accept"
	typeReject       = "Reject"
)

type initialize struct {
	Type      string `json:"type"`
	Address   string `json:"address"`
	UserAgent string `json:"useragent"`
}

type submit struct {
	Type string `json:"type"`
	Pow  string `json:"pow"`
}

type pong struct {
	Type string `json:"type"`
}

// message is the union of every inbound object.
type message struct {
	Type      string `mapstructure:"type"`
	Blockhash string `mapstructure:"blockhash"`
	Msg       string `mapstructure:"msg"`
	Pow       string `mapstructure:"pow"`
}

// Client is a shifu pool session.
type Client struct {
	*clients.BaseClient
	address    string
	algo       string
	agent      string
	AckTimeout time.Duration

	mu   sync.Mutex
	conn *stratum.Conn
}

func NewClient(args clients.ClientArgs) (*Client, error) {
	u, err := url.Parse(args.Pool.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != Scheme || u.Host == "" {
		return nil, fmt.Errorf("not a %s url: %q", Scheme, args.Pool.URL)
	}
	if err := ValidateUser(args.Pool.User); err != nil {
		return nil, err
	}
	if args.Tuner == nil {
		args.Tuner = clients.NewDifficultyController(nil)
	}
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	args.Logger = args.Logger.Named("shifu")
	algo := args.Pool.Algo
	if algo == "" {
		algo = sha256bmb.Name
	}
	agent := args.Agent
	if agent == "" {
		agent = DefaultAgent
	}
	return &Client{
		BaseClient: clients.NewBaseClient(args),
		address:    u.Host,
		algo:       algo,
		agent:      agent,
		AckTimeout: AckTimeout,
	}, nil
}

// ValidateUser checks the identity locally before it is sent to the pool.
func ValidateUser(user string) error {
	if len(user) != UserLength {
		return fmt.Errorf("%w: %d characters, want %d", clients.ErrInvalidUser, len(user), UserLength)
	}
	return nil
}

func (sc *Client) SolutionName() string { return SolutionName }

func (sc *Client) Run(ctx context.Context) error {
	return sc.RunSessions(ctx, sc.session)
}

func (sc *Client) session(ctx context.Context) error {
	logger := sc.Logger()
	logger.Info("Connecting", zap.String("pool", sc.address))
	conn, err := stratum.Dial(ctx, sc.address)
	if err != nil {
		return types.TransportFault("dial", err)
	}
	sc.setConn(conn)
	sc.SetConn(conn)
	defer sc.setConn(nil)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	user := sc.Identity()
	if err := conn.WriteJSON(initialize{Type: typeInitialize, Address: user, UserAgent: sc.agent}); err != nil {
		return types.TransportFault("initialize", err)
	}
	sc.SetState(types.Authorized)
	logger.Info("Connected", zap.String("pool", sc.address), zap.String("user", user))

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return types.TransportFault("read", err)
		}
		var raw map[string]interface{}
		var msg message
		if err := stratum.Unmarshal(line, &raw); err != nil {
			logger.Warn("Malformed message", zap.ByteString("line", line), zap.Error(types.ProtocolFault("decode", err)))
			continue
		}
		if err := mapstructure.Decode(raw, &msg); err != nil {
			logger.Warn("Malformed message", zap.ByteString("line", line), zap.Error(types.ProtocolFault("decode", err)))
			continue
		}
		if err := sc.handle(conn, &msg); err != nil {
			return err
		}
	}
}

func (sc *Client) handle(conn *stratum.Conn, msg *message) error {
	logger := sc.Logger()
	switch msg.Type {
	case typeWork:
		blockhash, err := stratum.HexStringToBytes(msg.Blockhash)
		if err != nil || len(blockhash) != BlockhashSize {
			logger.Warn("Invalid job received", zap.String("blockhash", msg.Blockhash))
			return nil
		}
		sc.ResetRetries()
		sc.SetState(types.Active)
		sc.PublishJob(&types.Job{
			Kind:       types.NewJob,
			ID:         types.ShortID(blockhash),
			Name:       JobName,
			Target:     blockhash,
			Difficulty: sc.Tuner().Target(),
			Algo:       sc.algo,
		})
	case typeNotification:
		logger.Info("Pool notification", zap.String("msg", msg.Msg))
	case typePing:
		if err := conn.WriteJSON(pong{Type: typePong}); err != nil {
			return types.TransportFault("pong", err)
		}
	case typeAccept:
		sc.Ack(true)
	case typeReject:
		sc.Ack(false)
	default:
		logger.Debug("Unhandled message", zap.String("type", msg.Type))
	}
	return nil
}

func (sc *Client) setConn(conn *stratum.Conn) {
	sc.mu.Lock()
	sc.conn = conn
	sc.mu.Unlock()
}

func (sc *Client) currentConn() *stratum.Conn {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn
}

// Submit sends one share, applies burst correction and waits for the verdict.
func (sc *Client) Submit(ctx context.Context, sol types.JobSolution) (types.SubmitResult, error) {
	done := sc.BeginSubmit()
	defer done()

	conn := sc.currentConn()
	if conn == nil {
		return types.Timeout, clients.ErrNotConnected
	}
	if err := conn.WriteJSON(submit{Type: typeSubmit, Pow: stratum.BytesToHex(sol.Solution)}); err != nil {
		return types.Timeout, types.TransportFault("submit", err)
	}
	sc.NoteShare(time.Now())
	return sc.AwaitAck(ctx, sc.AckTimeout), nil
}

// SwitchIdentity reconnects under user. Identities the pool would refuse
// are ignored.
func (sc *Client) SwitchIdentity(user string) {
	if err := ValidateUser(user); err != nil {
		sc.Logger().Error("Identity not switched", zap.Error(err))
		return
	}
	if sc.SetIdentity(user) {
		sc.ForceReconnect()
	}
}
