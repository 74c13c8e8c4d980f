package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"go.uber.org/zap"
)

const DefaultAPIPort = 10000

func (m *Miner) apiAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	port := m.APIPort
	if port == 0 {
		port = DefaultAPIPort
	}
	host := ""
	if m.APILocalhostOnly {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

func (m *Miner) router() *mux.Router {
	s := rpc.NewServer()
	s.RegisterCodec(json.NewCodec(), "application/json")
	s.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	s.RegisterService(m, "miner")
	r := mux.NewRouter()
	r.Handle("/rpc", s)
	r.HandleFunc("/stats", m.GetStatsHTTP).Methods(http.MethodGet)
	return r
}

func (m *Miner) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.apiAddr(),
		Handler:           m.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	})
	defer stop()
	m.logger.Info("API listening", zap.String("addr", srv.Addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GetStatsHTTP serves the miner summary. With an access token configured
// the Authorization header must carry it.
func (m *Miner) GetStatsHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	want := m.APIAccessToken
	m.mu.RUnlock()
	if want != "" {
		token := r.Header.Get("Authorization")
		if token == "" {
			http.Error(w, "missing authorization", http.StatusBadRequest)
			return
		}
		if token != want {
			http.Error(w, "invalid authorization", http.StatusUnauthorized)
			return
		}
	}
	res, err := sonic.Marshal(m.Stats())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res)
}

type MinerRPCArgs struct {
	Who string
}

type StatsRPCReply struct {
	Stats string
}

func (m *Miner) GetStats(r *http.Request, args *MinerRPCArgs, reply *StatsRPCReply) error {
	res, err := sonic.MarshalString(m.Stats())
	reply.Stats = res
	return err
}

type MinerRPCReply struct {
	PoolsInfo string
	Activated int
}

func (m *Miner) GetPoolsStats(r *http.Request, args *MinerRPCArgs, reply *MinerRPCReply) error {
	pools := m.PoolsStats()
	reply.Activated = -1
	for i, p := range pools {
		if p.Active {
			reply.Activated = i
		}
	}
	res, err := sonic.MarshalString(pools)
	reply.PoolsInfo = res
	return err
}

type DriverRPCReply struct {
	DriverInfo string
}

func (m *Miner) GetHardwareStats(r *http.Request, args *MinerRPCArgs, reply *DriverRPCReply) error {
	res, err := sonic.MarshalString(m.HardwareStats())
	reply.DriverInfo = res
	return err
}
