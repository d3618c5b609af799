package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trezcool/masomo/apps/shared"
	"github.com/trezcool/masomo/core"
	logsvc "github.com/trezcool/masomo/services/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := core.NewConfig()
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}
	logger, err := logsvc.New(conf)
	if err != nil {
		log.Printf("setting up logger: %v", err)
		return 1
	}

	cluster, err := shared.NewCluster(conf)
	if err != nil {
		logger.Error("setting up storage", err)
		return 1
	}
	app := shared.New(conf, logger, cluster, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			logger.Error("closing storage", err)
		}
	}()

	// start CLI
	cli := commandLine{app: app, out: os.Stdout}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
