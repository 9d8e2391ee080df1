package usecase

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sql-migration-tool/internal/domain"
)

const (
	metricsNamespace = "migctl"
	pushJob          = "migctl"
	collectTimeout   = 5 * time.Second
)

// migctl の1回の実行で増加するカウンタ。PushMetrics で Pushgateway に送る。
var (
	MigrationsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "migrations_applied_total",
		Help:      "Number of migration files applied and recorded in the ledger.",
	})
	MigrationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "migrations_failed_total",
		Help:      "Number of migration files whose execution failed.",
	})
	BackupsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "backups_total",
		Help:      "Number of backup files written.",
	})
	RestoresCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "restores_total",
		Help:      "Number of completed restores.",
	})
	LockConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "lock_conflicts_total",
		Help:      "Number of runs rejected because another process held the migration lock.",
	})
)

// PushMetrics は実行結果のカウンタを Pushgateway に送る。
// CLI はスクレイプされる前に終了するため、プッシュ型で公開する。
func PushMetrics(ctx context.Context, gatewayURL string) error {
	return push.New(gatewayURL, pushJob).
		Collector(MigrationsApplied).
		Collector(MigrationsFailed).
		Collector(BackupsCreated).
		Collector(RestoresCompleted).
		Collector(LockConflicts).
		PushContext(ctx)
}

// StateReader は現在のマイグレーション状況を返す。
type StateReader interface {
	State(ctx context.Context) (*domain.State, error)
}

// BackupLister はバックアップファイルの一覧を返す。
type BackupLister interface {
	ListArtifacts(ctx context.Context) ([]domain.BackupArtifact, error)
}

// RegisterStateMetrics は台帳とバックアップディレクトリの状況をスクレイプ時に取得するゲージを登録する。
// 取得に失敗した場合は NaN を返す。
func RegisterStateMetrics(reg prometheus.Registerer, state StateReader, backups BackupLister) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "applied_migrations",
				Help:      "Number of migration files recorded in the ledger.",
			},
			func() float64 {
				return collectState(state, func(s *domain.State) int { return len(s.Applied) })
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_migrations",
				Help:      "Number of migration files not yet applied.",
			},
			func() float64 {
				return collectState(state, func(s *domain.State) int { return len(s.Pending) })
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "backup_files",
				Help:      "Number of backup files in the backup directory.",
			},
			func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
				defer cancel()
				artifacts, err := backups.ListArtifacts(ctx)
				if err != nil {
					slog.WarnContext(ctx, "failed to collect backup metrics", "error", err)
					return math.NaN()
				}
				return float64(len(artifacts))
			},
		),
	}

	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

func collectState(state StateReader, count func(*domain.State) int) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	s, err := state.State(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to collect migration metrics", "error", err)
		return math.NaN()
	}
	return float64(count(s))
}
