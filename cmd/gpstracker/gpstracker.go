package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zerologadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/broker"
	"nuha.dev/textgps/internal/cache"
	"nuha.dev/textgps/internal/config"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/gpsv2/registry"
	"nuha.dev/textgps/internal/gpsv2/server"
	"nuha.dev/textgps/internal/gpsv2/stat"
	"nuha.dev/textgps/internal/gpsv2/sublist"
	"nuha.dev/textgps/internal/logging"
	"nuha.dev/textgps/internal/store"
	"nuha.dev/textgps/internal/store/impl/logstore"
	"nuha.dev/textgps/internal/store/impl/mongostore"
	"nuha.dev/textgps/internal/store/impl/pgstore"
	"nuha.dev/textgps/internal/web"
	"nuha.dev/textgps/internal/web/webstream"
)

func main() {
	config_path := flag.String("config", "", "path to configuration file")
	flag.Parse()

	conf, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	w := logging.Writer(&conf.Log)
	logging.Setup(&conf.Log, w)
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	if err := position.InitIDs(conf.NodeId); err != nil {
		logger.Fatal().Err(err).Msg("unable to init id generator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool
	if conf.DbUrl != "" {
		db, err = connectDb(ctx, conf, w)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer db.Close()
	}

	dev_store := logstore.NewStore(w)
	var misc_store store.MiscStore = dev_store
	var photo_store store.PhotoStore = dev_store
	if db != nil {
		pg_misc := pgstore.NewMiscStore(db)
		pg_misc.Run(ctx)
		misc_store = pg_misc
		photo_store = pg_misc
	}

	var waits []<-chan struct{}
	stores := store.Stores{}
	var latest cache.Latest

	switch conf.Store.Backend {
	case "pg":
		st := pgstore.NewStore(db, conf.Store.Table, &pgstore.StoreConfig{
			BufSize: conf.Store.BufSize, TickerDur: time.Second, MaxAgeFlush: conf.Store.FlushDur,
		})
		st.Run(ctx)
		waits = append(waits, st.Done())
		stores = append(stores, st)
	case "mongo":
		st, err := mongostore.Connect(ctx, &mongostore.StoreConfig{
			URI: conf.Store.MongoUri, Database: conf.Store.MongoDatabase, Collection: conf.Store.Table,
			BufSize: conf.Store.BufSize, FlushDur: conf.Store.FlushDur,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to mongodb")
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("unable to create mongodb indexes")
		}
		st.Run(ctx)
		waits = append(waits, st.Done())
		stores = append(stores, st)
		latest = st
	default:
		stores = append(stores, dev_store)
	}

	if conf.Cache.RedisUrl != "" {
		rc, err := cache.NewRedis(ctx, conf.Cache.RedisUrl, conf.Cache.Ttl)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to redis")
		}
		rc.Run(ctx)
		latest = rc
		stores = append(stores, rc)
	} else if latest == nil {
		mem := cache.NewMemory()
		latest = mem
		stores = append(stores, mem)
	}

	var pubs []broker.Publisher
	if conf.Broker.NatsUrl != "" {
		p, err := broker.NewNatsPublisher(conf.Broker.NatsUrl, conf.Broker.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to nats")
		}
		pubs = append(pubs, p)
	}
	if conf.Broker.MqttBroker != "" {
		p, err := broker.NewMqttPublisher(conf.Broker.MqttBroker, conf.Broker.MqttClientId, conf.Broker.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to mqtt broker")
		}
		pubs = append(pubs, p)
	}
	if len(pubs) > 0 {
		br := broker.NewBroker(&broker.BrokerConfig{BufSize: conf.Broker.BufSize, TimerDur: conf.Broker.FlushDur}, pubs...)
		br.Run(ctx)
		waits = append(waits, br.Done())
		stores = append(stores, br)
	}

	reg := registry.NewRegistry(db, conf.Registry.AutoRegister)
	if conf.Registry.File != "" {
		if err := reg.LoadFile(conf.Registry.File); err != nil {
			logger.Fatal().Err(err).Msg("unable to load device file")
		}
	}
	if err := reg.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("unable to load trackers")
	}
	reg.Run(ctx, conf.Registry.Refresh)
	logger.Info().Int("devices", reg.Len()).Msg("device registry loaded")

	sublistmap := sublist.NewSublistMap()
	st := stat.NewStat()
	gps := server.NewServer(&server.Param{
		Store:      stores,
		MiscStore:  misc_store,
		PhotoStore: photo_store,
		Devices:    reg,
		Sublist:    sublistmap,
		Stat:       st,
	}, &server.ServerConfig{
		ListenerAddr:    conf.Gps.ListenAddr,
		YamuxTunnelAddr: conf.Gps.TunnelAddr,
		YamuxToken:      conf.Gps.TunnelToken,
		Protocol:        conf.Gps.Protocol,
		IdleTimeout:     conf.Gps.IdleTimeout,
		PhotoMaxLength:  conf.Gps.PhotoMaxLength,
	})
	if err := gps.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("unable to start gps server")
	}

	var api *web.Api
	if conf.Api.ListenAddr != "" {
		param := &web.Param{Latest: latest, Photos: photo_store, Devices: reg, Stat: st}
		api, err = web.NewApi(param, &web.ApiConfig{
			ListenAddr: conf.Api.ListenAddr, ApiKeyHash: conf.Api.ApiKeyHash, HashidSalt: conf.Api.HashidSalt,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to create api server")
		}
		api.Mount("/stream", webstream.NewWebstream(sublistmap, api.CheckKey, webstream.WebStreamConfig{MaxSubscription: conf.Api.MaxSubscription}))
		go func() {
			if err := api.Run(); err != nil {
				logger.Error().Err(err).Msg("api server stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if api != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = api.Shutdown(sctx)
		cancel()
	}
	gps.Wait()
	for _, c := range waits {
		select {
		case <-c:
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("timeout waiting for store flush")
		}
	}
}

func connectDb(ctx context.Context, conf *config.Config, w io.Writer) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(conf.DbUrl)
	if err != nil {
		return nil, err
	}
	pcfg.ConnConfig.Logger = zerologadapter.NewLogger(logging.Zerolog(&conf.Log, w))
	pcfg.ConnConfig.LogLevel = pgx.LogLevelWarn
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pgxpool.ConnectConfig(ctx, pcfg)
}
