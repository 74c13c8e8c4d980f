package main

import (
	"testing"
	"time"

	"github.com/AGPFMiner/bmbminer/miner"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"
)

func TestReadConfig(t *testing.T) {
	viper.SetConfigName("bmbminer")      // name of config file (without extension)
	viper.AddConfigPath("/etc/bmbminer") // path to look for the config file in
	viper.AddConfigPath(".")             // more path to look for the config files

	err := viper.ReadInConfig()
	if err != nil {
		println("No config file found. Using built-in defaults.")
	}

	var m = &miner.Miner{}
	applyConfig(m)
	spew.Dump(m)

	if !m.CPUEnabled || m.GPUEnabled || m.Retries != 5 || m.ActionAfterRetries != miner.ActionShutdown {
		t.Fatal("unexpected defaults")
	}
	if m.DevFeeEnabled || m.DevFeeIdentity != "" {
		t.Fatal("dev fee must be off by default")
	}
	if m.ReportInterval != 180*time.Second || m.DevFeePeriod != time.Hour || m.APIPort != 10000 {
		t.Fatalf("report %s fee %s port %d", m.ReportInterval, m.DevFeePeriod, m.APIPort)
	}
	if m.Version != version {
		t.Fatalf("version %s", m.Version)
	}
}

func TestURLOverridesPools(t *testing.T) {
	viper.Set("pools", []map[string]interface{}{
		{"url": "stratum+tcp://a:1", "user": "w1", "pass": "x"},
		{"url": "shifu://b:2", "user": "w2"},
	})
	defer viper.Set("pools", nil)

	pools := configuredPools()
	if len(pools) != 2 || pools[1].URL != "shifu://b:2" || pools[0].Pass != "x" {
		t.Fatalf("pools %s", spew.Sdump(pools))
	}

	viper.Set("url", "bamboo://c:3")
	viper.Set("user", "w3")
	defer viper.Set("url", "")
	defer viper.Set("user", "")
	pools = configuredPools()
	want := types.Pool{URL: "bamboo://c:3", User: "w3"}
	if len(pools) != 1 || pools[0] != want {
		t.Fatalf("pools %s", spew.Sdump(pools))
	}
}
