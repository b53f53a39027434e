package main

import (
	"os"

	"github.com/anchel/voucher-seckill/cli"
	"github.com/charmbracelet/log"
)

func main() {
	log.SetLevel(log.WarnLevel)

	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Error("seckill", "err", err)
		os.Exit(1)
	}
}
