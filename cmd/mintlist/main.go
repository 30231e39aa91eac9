// mintlist mints tokens through the dev custody endpoints, approves the
// marketplace for each and lists it.
//
// Usage: mintlist --secret $MARKET_AUTH_JWT_SECRET --identity alice --collection pugs --price 0.1
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/nft-marketplace/internal/api"
	"github.com/rickgao/nft-marketplace/internal/auth"
	"github.com/rickgao/nft-marketplace/internal/config"
	"github.com/rickgao/nft-marketplace/internal/model"
)

type options struct {
	baseURL     string
	secret      string
	issuer      string
	audience    string
	identity    string
	collections []string
	price       string
	decimals    int32
	count       int
}

func main() {
	var opts options

	flagSet := pflag.NewFlagSet("mintlist", pflag.ContinueOnError)
	flagSet.StringVar(&opts.baseURL, "url", "http://localhost:8080", "marketd base URL")
	flagSet.StringVar(&opts.secret, "secret", os.Getenv("MARKET_AUTH_JWT_SECRET"), "token signing secret (default $MARKET_AUTH_JWT_SECRET)")
	flagSet.StringVar(&opts.issuer, "issuer", config.DefaultIssuer, "token issuer")
	flagSet.StringVar(&opts.audience, "audience", config.DefaultAudience, "token audience")
	flagSet.StringVar(&opts.identity, "identity", "", "identity to mint and list as")
	flagSet.StringSliceVar(&opts.collections, "collection", []string{"pugs", "shiba-inu"}, "collections to pick from at random")
	flagSet.StringVar(&opts.price, "price", "0.1", "listing price in display units")
	flagSet.Int32Var(&opts.decimals, "decimals", config.DefaultCurrencyDecimals, "currency decimals")
	flagSet.IntVarP(&opts.count, "count", "n", 1, "number of tokens to mint and list")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("mintlist failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	if opts.identity == "" {
		return errors.New("--identity is required")
	}
	if len(opts.collections) == 0 {
		return errors.New("--collection is required")
	}

	price, err := api.Currency{Decimals: opts.decimals}.Parse(opts.price)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", opts.price, err)
	}

	issuer, err := auth.NewVerifier([]byte(opts.secret), opts.issuer, opts.audience)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}
	token, err := issuer.Issue(model.Identity(opts.identity), time.Hour)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	client := api.NewClient(opts.baseURL, token, api.WithLogger(logger))

	for range opts.count {
		collection := opts.collections[rand.IntN(len(opts.collections))]

		logger.Info("minting token", "collection", collection)
		key, err := client.MintAsset(ctx, collection, nil)
		if err != nil {
			return err
		}

		logger.Info("approving marketplace", "key", key.String())
		if _, err := client.ApproveMarketplace(ctx, key, true); err != nil {
			return err
		}

		logger.Info("listing token", "key", key.String(), "price", price)
		ev, err := client.ListItem(ctx, key, price)
		if err != nil {
			return err
		}
		fmt.Printf("listed %s at %s (seq %d)\n", key, opts.price, ev.Seq)
	}
	return nil
}
