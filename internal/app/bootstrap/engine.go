package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-reservation-engine/internal/cachegate"
	"github.com/wolfman30/clinic-reservation-engine/internal/chat"
	appconfig "github.com/wolfman30/clinic-reservation-engine/internal/config"
	"github.com/wolfman30/clinic-reservation-engine/internal/dispatch"
	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-reservation-engine/internal/reconcile"
	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// Engine bundles the wired stores and services shared by the API server and
// the reconciler worker.
type Engine struct {
	Registry *prometheus.Registry

	Patients      *identity.Store
	Reservations  *slotledger.Store
	Intakes       *intake.Store
	Reorders      *reorder.Store
	Notifications *dispatch.Store

	Cache      *cachegate.Gate
	SlotLedger *slotledger.Service
	Identity   *identity.Service
	Reorder    *reorder.Service
	Dispatch   *dispatch.Service
	Reconcile  *reconcile.Service
}

// BuildEngine wires stores, the cache gate, and the domain services. A nil
// Redis client disables the cache gate; writes then skip invalidation and
// reads go straight to the stores.
func BuildEngine(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, sheetsClient *sheets.Client, chatClient *chat.Client, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}

	reg := prometheus.NewRegistry()
	reservationMetrics := metrics.NewReservationMetrics(reg)
	dispatchMetrics := metrics.NewDispatchMetrics(reg)
	reconcileMetrics := metrics.NewReconcileMetrics(reg)

	e := &Engine{
		Registry:      reg,
		Patients:      identity.NewStore(pool),
		Reservations:  slotledger.NewStore(pool),
		Intakes:       intake.NewStore(pool),
		Reorders:      reorder.NewStore(pool),
		Notifications: dispatch.NewStore(pool),
	}

	if redisClient != nil {
		loader := cachegate.NewPatientViewLoader(e.Patients, e.Reservations, e.Intakes, e.Reorders)
		e.Cache = cachegate.New(redisClient, loader, cfg.CacheTTL, logger)
	} else {
		logger.Warn("cache gate disabled; aggregate views read from stores")
	}

	var slotInvalidator slotledger.Invalidator
	var identityInvalidator identity.Invalidator
	var reorderInvalidator reorder.Invalidator
	if e.Cache != nil {
		slotInvalidator = e.Cache
		identityInvalidator = e.Cache
		reorderInvalidator = e.Cache
	}

	var profiles identity.ProfileFetcher
	if chatClient != nil {
		profiles = chatClient
	}

	e.SlotLedger = slotledger.NewService(e.Reservations, slotInvalidator, reservationMetrics, logger)
	e.Identity = identity.NewService(e.Patients, profiles, identityInvalidator, logger)
	e.Reorder = reorder.NewService(e.Reorders, sheetsClient, reorderInvalidator, logger)
	e.Dispatch = dispatch.NewService(e.Notifications, chatClient, dispatchMetrics, logger, cfg.DispatchMaxAttempts, cfg.DispatchRetryDelay)
	e.Reconcile = reconcile.NewService(e.Reorders, sheetsClient, e.Patients, e.Intakes, reconcileMetrics, logger, cfg.SheetsRowOffset)

	return e
}
