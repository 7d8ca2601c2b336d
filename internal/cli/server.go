package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"challenge-service/internal/abuse"
	"challenge-service/internal/app"
	"challenge-service/internal/config"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/generation"
	"challenge-service/internal/infra/identity"
	"challenge-service/internal/infra/memory"
	pgstore "challenge-service/internal/infra/postgres"
	redisinfra "challenge-service/internal/infra/redis"
	"challenge-service/internal/ratelimit"
	transport "challenge-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the challenge session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	}

	var (
		sessions app.SessionRepository
		ledger   app.RewardLedger
		history  abuse.HistoryStore
		signals  abuse.SignalStore
	)
	if bunDB != nil {
		store := pgstore.NewSessionStore(bunDB)
		sessions, ledger, history, signals = store, store, store, store
	} else {
		store := memory.NewSessionStore()
		sessions, ledger, history, signals = store, store, store, store
	}

	var source app.QuestionSource
	if pool != nil {
		source = pgstore.NewQuestionLoader(pool)
	} else {
		source = memory.NewStaticQuestionSource(sampleTopics())
	}
	if redisClient != nil {
		source = redisinfra.NewPoolCache(redisClient, source, config.TTLDuration(cfg.Pool.TTL, 10*time.Minute))
	}

	var generator app.QuestionGenerator = memory.DisabledGenerator{}
	genTimeout := config.TTLDuration(cfg.Generator.Timeout, 60*time.Second)
	if cfg.Generator.URL != "" {
		generator = generation.NewClient(cfg.Generator.URL, cfg.Generator.APIKey, cfg.Generator.Model, genTimeout)
	}

	var counter ratelimit.Counter
	if redisClient != nil {
		counter = redisinfra.NewCounter(redisClient)
	} else {
		counter = memory.NewCounter()
	}

	limiter := ratelimit.NewLimiter(counter, logger.WithField("component", "ratelimit"))
	detector := abuse.NewDetector(history, signals, logger.WithField("component", "abuse"))
	assembler := app.NewPoolAssembler(source, generator, genTimeout, logger.WithField("component", "assembler"))
	issuer := app.NewRewardIssuer(ledger, detector, logger.WithField("component", "rewards"))
	service := app.NewChallengeService(sessions, assembler, limiter, detector, issuer, logger.WithField("component", "challenge"))

	var auth transport.Authenticator
	if cfg.Identity.URL != "" {
		auth = identity.NewClient(cfg.Identity.URL, config.TTLDuration(cfg.Identity.Timeout, 5*time.Second))
	} else {
		auth = memory.NewStaticAuthenticator(cfg.Identity.DevTokens)
	}

	handler := transport.NewHandler(service, auth, logger.WithField("component", "http"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Infof("starting challenge service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server...")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTopics provides a minimal beginner pool for running without Postgres
// or a generation service; production deployments use both.
func sampleTopics() map[string][]domain.QuizQuestion {
	q := func(text string, options [4]string, correct int, explanation string) domain.QuizQuestion {
		return domain.QuizQuestion{Text: text, Options: options[:], CorrectIndex: correct, Explanation: explanation}
	}
	return map[string][]domain.QuizQuestion{
		"general-science": {
			q("What is the chemical symbol for water?", [4]string{"H2O", "CO2", "O2", "NaCl"}, 0, "Water is two hydrogen atoms bonded to one oxygen atom."),
			q("Which planet is closest to the Sun?", [4]string{"Venus", "Mercury", "Mars", "Earth"}, 1, "Mercury orbits at roughly 58 million km from the Sun."),
			q("What gas do plants absorb for photosynthesis?", [4]string{"Oxygen", "Nitrogen", "Carbon dioxide", "Hydrogen"}, 2, "Plants fix carbon from CO2 into sugars."),
			q("What force pulls objects toward Earth's center?", [4]string{"Magnetism", "Friction", "Tension", "Gravity"}, 3, "Gravity acts between any two masses."),
			q("How many bones are in the adult human body?", [4]string{"206", "186", "226", "246"}, 0, "Adults have 206 bones after several fuse during growth."),
			q("What is the powerhouse of the cell?", [4]string{"Nucleus", "Mitochondrion", "Ribosome", "Golgi body"}, 1, "Mitochondria produce most of the cell's ATP."),
			q("What is the speed of light in vacuum?", [4]string{"300 km/s", "3,000 km/s", "300,000 km/s", "30,000 km/s"}, 2, "Light travels at about 299,792 km per second."),
			q("Which element has atomic number 1?", [4]string{"Helium", "Oxygen", "Carbon", "Hydrogen"}, 3, "Hydrogen has a single proton."),
			q("What type of rock forms from cooled lava?", [4]string{"Igneous", "Sedimentary", "Metamorphic", "Fossil"}, 0, "Igneous rock crystallizes from molten material."),
			q("Which organ filters blood in the human body?", [4]string{"Liver", "Kidney", "Spleen", "Pancreas"}, 1, "Kidneys filter waste from blood into urine."),
			q("What is the center of an atom called?", [4]string{"Electron", "Orbital", "Nucleus", "Shell"}, 2, "The nucleus holds protons and neutrons."),
			q("Which gas makes up most of Earth's atmosphere?", [4]string{"Oxygen", "Carbon dioxide", "Argon", "Nitrogen"}, 3, "Nitrogen is about 78% of the atmosphere."),
			q("What instrument measures atmospheric pressure?", [4]string{"Barometer", "Thermometer", "Hygrometer", "Anemometer"}, 0, "Barometers track pressure changes used in forecasts."),
			q("What is H2O2 commonly known as?", [4]string{"Salt water", "Hydrogen peroxide", "Heavy water", "Ozone"}, 1, "Hydrogen peroxide has one more oxygen than water."),
			q("Which blood cells fight infection?", [4]string{"Red cells", "Platelets", "White cells", "Plasma"}, 2, "White blood cells are the immune system's responders."),
		},
	}
}
