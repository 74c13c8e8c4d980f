////////////////////////////////////////////////////////////////////////////
// Porgram: CommandLineCV
// Purpose: Go commandline via cobra & viper demo
// Authors: Tong Sun (c) 2015, All rights reserved
// based on https://github.com/chop-dbhi/origins-dispatch/blob/master/main.go
////////////////////////////////////////////////////////////////////////////

////////////////////////////////////////////////////////////////////////////
// Program start

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AGPFMiner/bmbminer/miner"
	"github.com/AGPFMiner/bmbminer/statistics"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

////////////////////////////////////////////////////////////////////////////
// Constant and data type/structure definitions

const version = "0.2.0"

const defaultConfig = "bmbminer.json"

// The main command describes the service and defaults to mining.
var mainCmd = &cobra.Command{
	Use:   "bmbminer",
	Short: "bmbminer, a CPU/GPU miner for BMB pools and nodes",
	Long:  `bmbminer mines sha256bmb and pufferfish2bmb against stratum, shifu and bamboo endpoints`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mine()
	},
}

// The version command prints this service.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Long:  "The version of the miner.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark <algo>",
	Short: "Measure the CPU hashrate of an algorithm.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return benchmark(cmd, args[0])
	},
}

var mainminer = &miner.Miner{}

// Go special automatically executed init function
func init() {
	viper.SetDefault("url", "")
	viper.SetDefault("user", "")
	viper.SetDefault("password", "")
	viper.SetDefault("retries", 5)
	viper.SetDefault("action_after_retries_done", miner.ActionShutdown)
	viper.SetDefault("cpu.enabled", true)
	viper.SetDefault("cpu.threads", 0)
	viper.SetDefault("gpu.enabled", false)
	viper.SetDefault("gpu.device", "0")
	viper.SetDefault("gpu.work_size", 1024)
	viper.SetDefault("gpu.global_size", 65536)
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.port", miner.DefaultAPIPort)
	viper.SetDefault("api.localhost_only", true)
	viper.SetDefault("api.access_token", "")
	viper.SetDefault("devfee.enabled", false)
	viper.SetDefault("devfee.identity", "")
	viper.SetDefault("devfee.grace", miner.DefaultFeeGrace)
	viper.SetDefault("devfee.period", miner.DefaultFeePeriod)
	viper.SetDefault("report.delay", miner.DefaultReportDelay)
	viper.SetDefault("report.interval", miner.DefaultReportInterval)
	viper.SetDefault("debug", "info")
	viper.SetDefault("hotkeys", true)
	viper.SetDefault("paused", false)

	flags := mainCmd.PersistentFlags()
	flags.String("cfg", defaultConfig, "config file path")
	flags.String("url", "", "single pool url, overrides the pools list")
	flags.String("user", "", "pool user or payout address")
	flags.String("password", "", "pool password")
	benchmarkCmd.Flags().Duration("duration", 30*time.Second, "benchmark duration")
	benchmarkCmd.Flags().Int("threads", 0, "worker threads, 0 for every core")
	bindFlags(flags)

	mainCmd.AddCommand(versionCmd)
	mainCmd.AddCommand(benchmarkCmd)
	cobra.OnInitialize(readConfig)
}

func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(f.Name, f)
	})
}

func readConfig() {
	// Viper supports reading from yaml, toml and/or json files. Viper can
	// search multiple paths. Paths will be searched in the order they are
	// provided. Searches stopped once Config File found.
	fullcfgname := viper.GetString("cfg")
	log.Print("Config file: ", fullcfgname)
	cfgname := strings.TrimSuffix(fullcfgname, filepath.Ext(fullcfgname))
	if fullcfgname != defaultConfig {
		viper.SetConfigFile(fullcfgname)
	} else {
		viper.SetConfigName(cfgname)         // name of config file (without extension)
		viper.AddConfigPath(".")             // more path to look for the config files
		viper.AddConfigPath("/etc/bmbminer") // path to look for the config file in
	}

	err := viper.ReadInConfig()
	if err != nil {
		println("No config file found. Using built-in defaults.")
		return
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		fmt.Println("Config file changed:", e.Name)
		mainminer.Update(applyConfig)
		mainminer.Reload()
	})
}

// configuredPools returns the pools list, or the single url pool when one
// is given.
func configuredPools() []types.Pool {
	if url := viper.GetString("url"); url != "" {
		return []types.Pool{{
			URL:  url,
			User: viper.GetString("user"),
			Pass: viper.GetString("password"),
		}}
	}
	var pools []types.Pool
	viper.UnmarshalKey("pools", &pools)
	return pools
}

func applyConfig(m *miner.Miner) {
	m.Pools = configuredPools()
	m.Retries = viper.GetInt("retries")
	m.ActionAfterRetries = strings.ToUpper(viper.GetString("action_after_retries_done"))

	m.CPUEnabled = viper.GetBool("cpu.enabled")
	m.CPUThreads = viper.GetInt("cpu.threads")
	m.GPUEnabled = viper.GetBool("gpu.enabled")
	m.GPUDevices = viper.GetString("gpu.device")
	m.GPUWorkSize = viper.GetInt("gpu.work_size")
	m.GPUGlobalSize = viper.GetInt("gpu.global_size")

	m.APIEnabled = viper.GetBool("api.enabled")
	m.APIPort = viper.GetInt("api.port")
	m.APILocalhostOnly = viper.GetBool("api.localhost_only")
	m.APIAccessToken = viper.GetString("api.access_token")

	m.DevFeeEnabled = viper.GetBool("devfee.enabled")
	m.DevFeeIdentity = viper.GetString("devfee.identity")
	m.DevFeeGrace = viper.GetDuration("devfee.grace")
	m.DevFeePeriod = viper.GetDuration("devfee.period")

	m.ReportDelay = viper.GetDuration("report.delay")
	m.ReportInterval = viper.GetDuration("report.interval")

	m.Hotkeys = viper.GetBool("hotkeys")
	m.Paused = viper.GetBool("paused")
	m.LogLevel = viper.GetString("debug")
	m.Version = version
}

////////////////////////////////////////////////////////////////////////////
// Main

func main() {
	if err := mainCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

////////////////////////////////////////////////////////////////////////////
// Function definitions

func mine() error {
	applyConfig(mainminer)
	if len(mainminer.Pools) == 0 {
		return fmt.Errorf("no pool configured, set url or pools in %s", viper.GetString("cfg"))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return mainminer.MinerMain(ctx)
}

func benchmark(cmd *cobra.Command, algo string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	d, _ := cmd.Flags().GetDuration("duration")
	threads, _ := cmd.Flags().GetInt("threads")
	rate, err := miner.Benchmark(ctx, algo, threads, d, nil)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", algo, statistics.FormatHashrate(rate))
	return nil
}
