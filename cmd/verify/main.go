package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"nft-sniper-bot/internal/chain"
	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/logging"
	"nft-sniper-bot/internal/moralis"
	"nft-sniper-bot/internal/opensea"
	"nft-sniper-bot/internal/pricing"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

const defaultVerifyTimeout = 10 * time.Second

// verify checks every configured endpoint once and prints a table. It
// never signs or sends transactions.
func main() {
	configPath := flag.String("config", "", "optional config path for provider settings")
	timeout := flag.Duration("timeout", defaultVerifyTimeout, "per-check timeout")
	strict := flag.Bool("strict", false, "exit non-zero when any check fails")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if err := config.LoadEnv(cfg.EnvFile); err != nil {
		fatal(err)
	}
	log := logging.New(config.LoggingConfig{Level: "warn", Format: cfg.Log.Format})
	defer func() { _ = log.Sync() }()

	runtime, err := config.LoadRuntime(cfg.EnvFile)
	if err != nil {
		fatal(err)
	}
	s := runtime.Snapshot()
	address := s.Address
	if address == "" && s.PrivateKey != "" {
		derived, err := chain.AddressFromKey(s.PrivateKey)
		if err != nil {
			fatal(fmt.Errorf("invalid PRIVATE_KEY: %w", err))
		}
		address = derived
	}

	ctx := context.Background()
	var rows [][]string
	failed := 0
	add := func(check, target string, err error, detail string) {
		result := "ok"
		if err != nil {
			result = "FAIL"
			detail = err.Error()
			failed++
		}
		rows = append(rows, []string{check, target, result, detail})
	}

	endpoints := s.RPCEndpoints()
	if len(endpoints) == 0 {
		add("rpc", "-", errors.New("no RPC_URL or RPC_URLS configured"), "")
	}
	for _, url := range endpoints {
		detail, err := checkRPC(ctx, url, address, *timeout)
		add("rpc", url, err, detail)
	}

	prices := pricing.New(cfg.Providers.CoinGecko, log)
	priceCtx, cancel := context.WithTimeout(ctx, *timeout)
	price := prices.PriceUSD(priceCtx, s.Chain)
	cancel()
	if price > 0 {
		add("price", s.Symbol(), nil, fmt.Sprintf("%.2f USD", price))
	} else {
		add("price", s.Symbol(), errors.New("spot price unavailable"), "")
	}

	if s.MoralisAPIKey != "" {
		client := moralis.New(cfg.Providers.Moralis, runtime, log)
		pingCtx, cancel := context.WithTimeout(ctx, *timeout)
		err := client.Ping(pingCtx)
		cancel()
		add("moralis", s.Chain, err, "reachable")
	} else {
		rows = append(rows, []string{"moralis", s.Chain, "skip", "MORALIS_API_KEY not set"})
	}

	if s.OpenSeaAPIKey != "" {
		client := opensea.New(cfg.Providers.OpenSea, runtime, log)
		pingCtx, cancel := context.WithTimeout(ctx, *timeout)
		err := client.Ping(pingCtx)
		cancel()
		add("opensea", opensea.ChainName(s.Chain), err, "reachable")
	} else {
		rows = append(rows, []string{"opensea", opensea.ChainName(s.Chain), "skip", "OPENSEA_API_KEY not set"})
	}

	if missing := s.MissingLiveCredentials(); len(missing) > 0 {
		rows = append(rows, []string{"live", s.Mode, "not ready", "missing " + strings.Join(missing, ", ")})
	} else {
		rows = append(rows, []string{"live", s.Mode, "ready", address})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Check", "Target", "Result", "Detail")
	for _, row := range rows {
		table.Append(row[0], row[1], row[2], row[3])
	}
	table.Render()
	log.Debug("verify finished", zap.Int("failed", failed))

	if *strict && failed > 0 {
		os.Exit(1)
	}
}

func checkRPC(ctx context.Context, url, address string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := chain.Dial(ctx, url, timeout)
	if err != nil {
		return "", err
	}
	defer client.Close()
	id, err := client.ChainID(ctx)
	if err != nil {
		return "", err
	}
	block, err := client.BlockNumber(ctx)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("chain_id=%s block=%d", id.String(), block)
	if address != "" {
		if wei, err := client.Balance(ctx, address); err == nil {
			detail += fmt.Sprintf(" balance=%.6f", chain.WeiToNative(wei))
		}
	}
	return detail, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
