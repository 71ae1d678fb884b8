//go:build !linux

package main

import kcp "github.com/xtaci/kcp-go/v5"

func listenKCP(addr string, config *Config, block kcp.BlockCrypt) (*kcp.Listener, error) {
	return kcp.ListenWithOptions(addr, block, config.DataShard, config.ParityShard)
}
