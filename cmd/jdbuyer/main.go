package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/auth"
	"github.com/wrenhold/jdbuyer/internal/buyer"
	"github.com/wrenhold/jdbuyer/internal/checkout"
	"github.com/wrenhold/jdbuyer/internal/client"
	"github.com/wrenhold/jdbuyer/internal/config"
	"github.com/wrenhold/jdbuyer/internal/item"
	"github.com/wrenhold/jdbuyer/internal/notify"
	"github.com/wrenhold/jdbuyer/internal/session"
)

const usage = `usage: jdbuyer [-config file] <command>

commands:
  test <sku> <area> [qty]   log in, then report stock for one item
  buy                       run the scheduled purchase loop from the config
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("cannot load configuration")
		os.Exit(1)
	}

	switch args[0] {
	case "test":
		if len(args) < 3 {
			flag.Usage()
			os.Exit(1)
		}
		qty := 1
		if len(args) > 3 {
			if n, err := strconv.Atoi(args[3]); err == nil && n > 0 {
				qty = n
			}
		}
		runTest(cfg, args[1], args[2], qty)
	case "buy":
		runBuy(cfg)
	default:
		flag.Usage()
		os.Exit(1)
	}
}

// bootstrap builds the session from the config, replaying any stored
// credentials and validating them against the storefront.
func bootstrap(cfg *config.Config) (*session.Session, *auth.Login) {
	sess, err := session.New(cfg.UserAgent, func() (session.HTTPClient, error) {
		c, err := client.New(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("cannot build the HTTP client")
		os.Exit(1)
	}
	sess.LoadSignPairs(cfg.Anticrawl)

	store := session.NewStore(cfg.StateDir, "", cfg.Cookie)
	if err := store.Load(sess); err == nil {
		if sess.Validate() {
			sess.Authenticated = true
			store.Persist(sess)
			log.Info().Msg("stored session is still valid")
		} else {
			log.Warn().Msg("stored session has expired, a fresh login is needed")
		}
	}

	login := auth.New(sess, store,
		auth.WithViewer(auth.NewFileViewer(cfg.StateDir)),
		auth.WithPhone(cfg.Phone),
	)
	return sess, login
}

func runTest(cfg *config.Config, sku, area string, qty int) {
	sess, login := bootstrap(cfg)
	if !login.Login(auth.Kind(cfg.LoginType), cfg.Phone) {
		log.Error().Msg("login failed")
		os.Exit(1)
	}

	inspector := item.NewInspector(sess)
	snap := inspector.Inspect(sku)
	inStock := inspector.CheckStock(sku, qty, area)

	log.Info().
		Str("sku", sku).
		Str("vender", snap.VenderID).
		Bool("presale", snap.Presale).
		Bool("in_stock", inStock).
		Msg("item status")
	fmt.Printf("sku %s in stock: %v\n", sku, inStock)
}

func runBuy(cfg *config.Config) {
	if err := cfg.ValidateForBuy(); err != nil {
		log.Error().Err(err).Msg("configuration is incomplete")
		os.Exit(1)
	}
	buyTime, err := buyer.ParseBuyTime(cfg.BuyTime)
	if err != nil {
		log.Error().Err(err).Msg("bad buy_time in the configuration")
		os.Exit(1)
	}

	sess, login := bootstrap(cfg)
	inspector := item.NewInspector(sess)
	engine := checkout.NewEngine(sess, cfg.PaymentPassword)

	opts := []buyer.Option{}
	if cfg.Notify.Enable && cfg.Notify.SCKey != "" {
		opts = append(opts, buyer.WithNotifier(notify.NewServerChan(cfg.Notify.SCKey)))
	}

	b := buyer.New(login, inspector, engine, opts...)
	err = b.Run(buyer.Params{
		SkuID:          cfg.SkuID,
		AreaID:         cfg.AreaID,
		Amount:         cfg.Amount,
		StockInterval:  cfg.StockIntervalDuration(),
		SubmitRetry:    cfg.SubmitRetry,
		SubmitInterval: cfg.SubmitIntervalDuration(),
		BuyTime:        buyTime,
		LoginKind:      auth.Kind(cfg.LoginType),
		Phone:          cfg.Phone,
	})
	if err != nil {
		log.Error().Err(err).Msg("purchase run ended")
		os.Exit(1)
	}
	log.Info().Msg("order submitted")
}
