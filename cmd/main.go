package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradengine/cmd/backfill"
	"tradengine/cmd/keys"
	"tradengine/cmd/service"
	"tradengine/src/database"
	"tradengine/src/repository"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradengine CMD"
	app.Usage = "The tradengine command line interface"

	app.Commands = []cli.Command{
		engineCMD,
		backfillCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the trading engine",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the scheduler, execution engine and status server`,
	}
	backfillCMD = cli.Command{
		Name:        "backfill",
		Usage:       "run OHLCV backfill",
		Action:      backfillAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Pull candle history and upsert it into the ohlcv table`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "run the credential CLI",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Seal exchange API credentials onto subscriptions`,
	}
)

func engineAction(_ *cli.Context) error {
	logrus.Info("Starting engine CMD")

	svc := &service.Engine{Port: os.Getenv("SERVER_PORT")}
	if err := svc.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func backfillAction(_ *cli.Context) error {
	logrus.Info("Starting OHLCV backfill CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	b := &backfill.Backfill{
		Log:  logrus.WithField("cmd", "backfill"),
		Repo: repository.NewOHLCVRepository(),
	}

	if err := b.Start(); err != nil {
		logrus.WithError(err).Error("Starting backfill CMD")
		return err
	}

	return nil
}

func keysAction(_ *cli.Context) error {
	logrus.Info("Starting keys CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	if err := keys.Run(); err != nil {
		logrus.WithError(err).Error("Starting keys CMD")
		return err
	}

	return nil
}
