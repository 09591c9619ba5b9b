package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/subszero0/meme-maker/internal/admission"
	"github.com/subszero0/meme-maker/internal/infra/config"
	"github.com/subszero0/meme-maker/internal/infra/queue"
	artifactstore "github.com/subszero0/meme-maker/internal/infra/store/artifact"
	jobstore "github.com/subszero0/meme-maker/internal/infra/store/job"
	"github.com/subszero0/meme-maker/internal/janitor"
	"github.com/subszero0/meme-maker/internal/media"
	"github.com/subszero0/meme-maker/internal/transport"
	"github.com/subszero0/meme-maker/internal/usecase"
	"github.com/subszero0/meme-maker/internal/worker"

	"github.com/redis/go-redis/v9"
)

const defaultCfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

// JobStore is the full method set a backend must provide; each consumer
// package narrows it to what it actually uses.
type JobStore interface {
	usecase.JobStore
	worker.JobStore
	janitor.JobStore
	worker.Claimer
}

type ArtifactStore interface {
	usecase.ArtifactStore
	worker.ArtifactStore
	janitor.ArtifactStore
}

type JobQueue interface {
	usecase.JobQueue
	worker.Dequeuer
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis *redis.Client

	jobStore      JobStore
	artifactStore ArtifactStore

	queue     JobQueue
	natsQueue *queue.NATS

	limiter *admission.Limiter

	usecase transport.Usecase
	handler *transport.Handler
	router  Router

	pipeline *worker.Pipeline
	pool     *worker.Pool
	janitor  *janitor.Janitor
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := defaultCfgPath
		if env := os.Getenv("CLIPD_CONFIG"); env != "" {
			path = env
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) JobStore(ctx context.Context) JobStore {
	if di.jobStore == nil {
		cfg := di.Config()
		switch cfg.Backends.JobStore {
		case "redis":
			di.jobStore = jobstore.NewRedis(di.RedisClient(ctx), cfg.Jobs.QueueCapacity)
			di.Logger().Info("using redis job store",
				slog.Int("queue_capacity", cfg.Jobs.QueueCapacity))
		case "memory":
			di.jobStore = jobstore.NewMemory(cfg.Jobs.QueueCapacity)
			di.Logger().Info("using in-memory job store",
				slog.Int("queue_capacity", cfg.Jobs.QueueCapacity))
		default:
			log.Fatalf("unknown job store backend %q", cfg.Backends.JobStore)
		}
	}
	return di.jobStore
}

func (di *dependencyInjector) ArtifactStore(ctx context.Context) ArtifactStore {
	if di.artifactStore == nil {
		cfg := di.Config()
		switch cfg.Backends.ArtifactStore {
		case "minio":
			store, err := artifactstore.NewMinIO(ctx, artifactstore.MinIOConfig{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
				BasePath:        cfg.MinIO.BasePath,
			})
			if err != nil {
				log.Fatalf("ArtifactStore minio: %+v", err)
			}
			di.artifactStore = store
			di.Logger().Info(
				"initialized MinIO artifact store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		case "local":
			store, err := artifactstore.NewLocal(cfg.ArtifactsDir)
			if err != nil {
				log.Fatalf("ArtifactStore local: %+v", err)
			}
			di.artifactStore = store
			di.Logger().Info("initialized local artifact store",
				slog.String("base_dir", cfg.ArtifactsDir))
		case "memory":
			di.artifactStore = artifactstore.NewMemory()
			di.Logger().Info("initialized in-memory artifact store")
		default:
			log.Fatalf("unknown artifact store backend %q", cfg.Backends.ArtifactStore)
		}
	}

	return di.artifactStore
}

func (di *dependencyInjector) Queue(ctx context.Context) JobQueue {
	if di.queue == nil {
		cfg := di.Config()
		switch cfg.Backends.Queue {
		case "nats":
			q, err := queue.NewNATS(queue.NATSConfig{
				URL:           cfg.NATS.URL,
				Stream:        cfg.NATS.Stream,
				Subject:       cfg.NATS.Subject,
				QueueName:     cfg.NATS.QueueName,
				MaxReconnects: cfg.NATS.MaxReconnects,
				MaxAge:        2 * cfg.Jobs.ArtifactTTL(),
			})
			if err != nil {
				log.Fatalf("NATS queue: %+v", err)
			}
			di.natsQueue = q
			di.queue = q
			di.Logger().Info("using NATS job queue", slog.String("url", cfg.NATS.URL))
		case "memory":
			di.queue = queue.NewMemory(cfg.Jobs.QueueCapacity)
			di.Logger().Info("using in-memory job queue")
		default:
			log.Fatalf("unknown queue backend %q", cfg.Backends.Queue)
		}
	}
	return di.queue
}

func (di *dependencyInjector) Limiter(ctx context.Context) *admission.Limiter {
	if di.limiter == nil {
		cfg := di.Config().Limits

		var counters admission.CounterStore
		if di.Config().Backends.JobStore == "redis" {
			counters = admission.NewRedisCounters(di.RedisClient(ctx))
		} else {
			counters = admission.NewMemoryCounters()
		}

		di.limiter = admission.NewLimiter(
			counters,
			admission.ClassLimit{Limit: cfg.ReadPerWindow, Window: cfg.ReadWindow()},
			admission.ClassLimit{Limit: cfg.WritePerWindow, Window: cfg.WriteWindow()},
		)
	}
	return di.limiter
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		di.usecase = usecase.New(
			usecase.Options{
				MaxClipSeconds: cfg.Jobs.MaxClipSeconds,
				DownloadTTL:    cfg.Jobs.DownloadTTL(),
				FailOpen:       cfg.Limits.FailOpen,
			},
			di.JobStore(ctx),
			di.ArtifactStore(ctx),
			di.Queue(ctx),
			di.Limiter(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) *transport.Handler {
	if di.handler == nil {
		// Only token-serving backends expose artifact bytes through the
		// process; presigning backends hand out absolute URLs instead.
		opener, _ := di.ArtifactStore(ctx).(transport.ArtifactOpener)
		di.handler = transport.NewHandler(
			di.Usecase(ctx),
			opener,
			di.Janitor(ctx),
			di.Config().AdminToken,
		)
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}

func (di *dependencyInjector) Pipeline(ctx context.Context) *worker.Pipeline {
	if di.pipeline == nil {
		cfg := di.Config()
		di.pipeline = worker.NewPipeline(
			di.JobStore(ctx),
			media.NewResolver(cfg.Tools.YtdlpPath, cfg.Tools.ResolveTimeout()),
			media.NewTranscoder(cfg.Tools.FFmpegPath),
			di.ArtifactStore(ctx),
			cfg.ScratchDir,
			cfg.Jobs.JobTimeout(),
		)
	}
	return di.pipeline
}

func (di *dependencyInjector) Pool(ctx context.Context) *worker.Pool {
	if di.pool == nil {
		cfg := di.Config()
		di.pool = worker.NewPool(
			di.JobStore(ctx),
			di.Queue(ctx),
			di.Pipeline(ctx),
			cfg.Jobs.PoolSize,
		)
		di.Logger().Info("worker pool configured", slog.Int("size", cfg.Jobs.PoolSize))
	}
	return di.pool
}

func (di *dependencyInjector) Janitor(ctx context.Context) *janitor.Janitor {
	if di.janitor == nil {
		cfg := di.Config().Jobs
		di.janitor = janitor.New(
			janitor.Config{
				Interval:        cfg.CleanupInterval(),
				Retention:       cfg.ArtifactTTL(),
				WorkerLostGrace: cfg.WorkerLostGrace(),
				RequeueAfter:    cfg.RequeueAfter(),
			},
			di.JobStore(ctx),
			di.ArtifactStore(ctx),
			di.Queue(ctx),
		)
	}
	return di.janitor
}
