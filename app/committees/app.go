package committees

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/app/committees/types"
	"github.com/p2pmodels/committees/pkg/enrich"
	"github.com/p2pmodels/committees/pkg/logging"
	"github.com/p2pmodels/committees/pkg/redis"
	"github.com/p2pmodels/committees/pkg/reducer"
	"github.com/p2pmodels/committees/pkg/retry"
	"github.com/p2pmodels/committees/pkg/roles"
	"github.com/p2pmodels/committees/pkg/rpc"
	"github.com/p2pmodels/committees/pkg/source"
	"github.com/p2pmodels/committees/pkg/utils"
)

const (
	defaultEventsStream    = "committees:events"
	defaultSnapshotChannel = "committees:snapshot.published"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("committees")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	registryHex := utils.Env("COMMITTEES_APP_ADDRESS", "")
	if !common.IsHexAddress(registryHex) {
		logger.Fatal("COMMITTEES_APP_ADDRESS must be a contract address", zap.String("value", registryHex))
	}
	registry := common.HexToAddress(registryHex)

	// Permission lookups are optional; without an ACL the role catalog is served as is.
	var acl common.Address
	if aclHex := utils.Env("ACL_ADDRESS", ""); aclHex != "" {
		if !common.IsHexAddress(aclHex) {
			logger.Fatal("ACL_ADDRESS must be a contract address", zap.String("value", aclHex))
		}
		acl = common.HexToAddress(aclHex)
	}

	endpoints := utils.EnvList("RPC_ENDPOINTS", []string{"http://localhost:8545"})
	httpClient, err := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints: endpoints,
		RPS:       utils.EnvInt("RPC_RPS", 20),
		Burst:     utils.EnvInt("RPC_BURST", 40),
		Timeout:   utils.EnvDuration("RPC_TIMEOUT", 0),
		ACL:       acl,
		FromBlock: uint64(utils.EnvInt64("ACL_FROM_BLOCK", 0)),
	})
	if err != nil {
		logger.Fatal("Unable to initialize RPC client", zap.Strings("endpoints", endpoints), zap.Error(err))
	}
	client, err := rpc.NewCachedClient(httpClient, rpc.DefaultTokenCacheSize)
	if err != nil {
		logger.Fatal("Unable to initialize token metadata cache", zap.Error(err))
	}

	enricher := enrich.New(client, enrich.Config{
		Registry: registry,
		Workers:  utils.EnvInt("ENRICH_WORKERS", 0),
		Timeout:  utils.EnvDuration("ENRICH_TIMEOUT", 0),
	}, logger.Named("enrich"))

	red := reducer.New(ctx, enricher, reducer.Config{
		Validate: utils.EnvBool("VALIDATE_SNAPSHOTS", false),
	}, logger.Named("reducer"))

	roleRegistry := roles.NewRegistry(client, retry.DefaultConfig(), logger.Named("roles"))
	scheduler, err := roles.NewScheduler(ctx, roleRegistry, utils.Env("ROLES_CRON", roles.DefaultCronSpec), logger.Named("roles"))
	if err != nil {
		logger.Fatal("Unable to schedule role refresh", zap.Error(err))
	}

	app := &types.App{
		Reducer:         red,
		Enricher:        enricher,
		Roles:           roleRegistry,
		Scheduler:       scheduler,
		Registry:        registry,
		RPCClient:       httpClient,
		SnapshotChannel: utils.Env("SNAPSHOT_CHANNEL", defaultSnapshotChannel),
		AdminToken:      utils.Env("ADMIN_TOKEN", ""),
		JWTSecret:       []byte(utils.Env("SESSION_SECRET", "")),
		Logger:          logger,
	}
	if acl != (common.Address{}) {
		app.Permissions = httpClient
	}

	// Redis carries the event stream and snapshot announcements (optional)
	if utils.EnvBool("REDIS_ENABLED", false) {
		var redisClient *redis.Client
		err = retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "connect redis", func() error {
			var err error
			redisClient, err = redis.NewClient(ctx, logger.Named("redis"))
			return err
		})
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
		stream := source.NewStream(redisClient, source.StreamConfig{
			Stream: utils.Env("EVENTS_STREAM", defaultEventsStream),
			LastID: utils.Env("EVENTS_START_ID", "0"),
		}, logger.Named("source"))

		app.RedisClient = redisClient
		app.Source = stream
		app.Appender = stream
	} else {
		logger.Info("Redis disabled - events are only accepted through POST /admin/events")
	}

	if app.AdminToken == "" && len(app.JWTSecret) == 0 {
		logger.Warn("Neither ADMIN_TOKEN nor SESSION_SECRET is set; admin endpoints will reject every request")
	}

	return app
}
