package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"trady/internal/config"
	"trady/internal/exchange"
	"trady/internal/exchange/binance"
)

type app struct {
	cfg    config.Config
	client *binance.Client
	gw     *exchange.Gateway
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"time":      {"print exchange server time", runTime},
	"symbols":   {"list tradable perpetual symbols", runSymbols},
	"rules":     {"print trading rules of a symbol", runRules},
	"stats":     {"print symbols by 24h quote volume", runStats},
	"candles":   {"print or download candlesticks", runCandles},
	"watch":     {"stream closed candlesticks", runWatch},
	"balance":   {"print wallet balance of an asset", runBalance},
	"positions": {"list open positions", runPositions},
	"open":      {"open a market position", runOpen},
	"close":     {"close one or all positions", runClose},
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "optional config yaml path")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fatal("unknown command: " + name)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	a, err := newApp(cfg)
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.run(ctx, a, flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, context.Canceled) {
			fmt.Println(name + " canceled")
			return
		}
		fatal(err.Error())
	}
}

func newApp(cfg config.Config) (*app, error) {
	client, err := binance.NewClient(cfg.Binance)
	if err != nil {
		return nil, err
	}
	gw, err := exchange.NewGateway(client, cfg.Binance.Settings())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, client: client, gw: gw}, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: trady [-config path] <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].usage)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
