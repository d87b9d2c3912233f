// reconcile.go — фоновая дочистка учётных записей Keycloak без профиля.
//
// ReconcileService периодически (SP_RECONCILE_INTERVAL) выбирает операции
// в статусе inconsistent с attempts < SP_RECONCILE_MAX_ATTEMPTS и повторяет
// удаление учётной записи. 404 от Keycloak считается успехом.
//
// Операции, застрявшие в pending дольше SP_RECONCILE_PENDING_AFTER (процесс
// упал между шагами саги), разбираются по наличию профиля: учётная запись
// без профиля удаляется, иначе операция закрывается.
//
// Prometheus-метрики:
//   - sitepanel_reconcile_duration_seconds — длительность прохода
//   - sitepanel_reconcile_operations_total{result} — исходы по операциям
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/repository"
)

// Prometheus-метрики reconciliation.
var (
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitepanel_reconcile_duration_seconds",
		Help:    "Длительность прохода дочистки несогласованных операций",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 0.05s … ~25s
	})
	reconcileOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepanel_reconcile_operations_total",
		Help: "Количество обработанных несогласованных операций по исходу",
	}, []string{"result"})
)

// reconcileBatchSize — максимум операций за один проход.
const reconcileBatchSize = 100

// ReconcileService — фоновый сервис дочистки несогласованных операций.
type ReconcileService struct {
	idp          IdentityProvider
	ops          repository.ProvisioningOperationRepository
	profiles     repository.ProfileRepository
	interval     time.Duration
	maxAttempts  int
	pendingAfter time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconcileService создаёт сервис дочистки.
func NewReconcileService(
	idp IdentityProvider,
	ops repository.ProvisioningOperationRepository,
	profiles repository.ProfileRepository,
	interval time.Duration,
	maxAttempts int,
	pendingAfter time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		idp:          idp,
		ops:          ops,
		profiles:     profiles,
		interval:     interval,
		maxAttempts:  maxAttempts,
		pendingAfter: pendingAfter,
		logger:       logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину с периодической дочисткой.
func (s *ReconcileService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая дочистка операций запущена",
			slog.String("interval", s.interval.String()),
			slog.Int("max_attempts", s.maxAttempts),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая дочистка операций остановлена")
				return
			case <-ticker.C:
				result, err := s.RunNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка дочистки операций",
						slog.String("error", err.Error()),
					)
				} else if result.Checked > 0 {
					s.logger.Info("Дочистка операций завершена",
						slog.Int("checked", result.Checked),
						slog.Int("resolved", result.Resolved),
						slog.Int("failed", result.Failed),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *ReconcileService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunNow выполняет один проход дочистки.
func (s *ReconcileService) RunNow(ctx context.Context) (*model.ReconcileResult, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	ops, err := s.ops.List(ctx, repository.OperationFilter{
		Status:      model.OperationInconsistent,
		MaxAttempts: s.maxAttempts,
		Limit:       reconcileBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("получение несогласованных операций: %w", err)
	}
	stale, err := s.ops.List(ctx, repository.OperationFilter{
		Status:        model.OperationPending,
		UpdatedBefore: start.Add(-s.pendingAfter),
		Limit:         reconcileBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("получение прерванных операций: %w", err)
	}

	result := &model.ReconcileResult{Checked: len(ops) + len(stale)}
	count := func(op *model.ProvisioningOperation, resolved bool, err error) {
		if err != nil {
			s.logger.Error("Ошибка обновления журнала операций",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)
		}
		if resolved && err == nil {
			result.Resolved++
		} else {
			result.Failed++
		}
	}
	for _, op := range ops {
		resolved, err := s.reconcile(ctx, op)
		count(op, resolved, err)
	}
	for _, op := range stale {
		resolved, err := s.resolveStale(ctx, op)
		count(op, resolved, err)
	}
	return result, nil
}

// Retry повторяет дочистку одной операции независимо от числа попыток.
// Ошибка сохранения результата возвращается вызывающему.
func (s *ReconcileService) Retry(ctx context.Context, id string) (*model.ProvisioningOperation, error) {
	op, err := s.ops.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if op.Status != model.OperationInconsistent {
		return nil, fmt.Errorf("%w: операция в статусе %s", ErrConflict, op.Status)
	}

	if _, err := s.reconcile(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// reconcile удаляет учётную запись операции и сохраняет итог.
// Возвращает true, если учётная запись удалена.
func (s *ReconcileService) reconcile(ctx context.Context, op *model.ProvisioningOperation) (bool, error) {
	op.Attempts++

	err := s.idp.DeleteUser(ctx, op.IdentityID)
	resolved := err == nil || errors.Is(err, keycloak.ErrNotFound)
	if resolved {
		op.Step = model.StepDone
		op.LastError = nil
		if op.Kind == model.OperationCreateUser {
			op.Status = model.OperationCompensated
		} else {
			op.Status = model.OperationCompleted
		}
		reconcileOperationsTotal.WithLabelValues("resolved").Inc()
		s.logger.Info("Несогласованная операция дочищена",
			slog.String("operation_id", op.ID),
			slog.String("identity_id", op.IdentityID),
			slog.String("status", string(op.Status)),
		)
	} else {
		op.Status = model.OperationInconsistent
		msg := err.Error()
		op.LastError = &msg
		reconcileOperationsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Повторное удаление учётной записи не удалось",
			slog.String("operation_id", op.ID),
			slog.String("identity_id", op.IdentityID),
			slog.Int("attempts", op.Attempts),
			slog.String("error", msg),
		)
	}

	if err := s.ops.Update(ctx, op); err != nil {
		return false, fmt.Errorf("сохранение операции %s: %w", op.ID, err)
	}
	return resolved, nil
}

// resolveStale разбирает операцию, прерванную в pending.
//
// Без ID учётной записи операция закрывается как failed: учётная запись
// могла остаться в Keycloak, но найти её по журналу нельзя. Если профиль
// есть, создание считается завершённым, а удаление не начатым. Если
// профиля нет, учётная запись удаляется как у inconsistent.
func (s *ReconcileService) resolveStale(ctx context.Context, op *model.ProvisioningOperation) (bool, error) {
	log := s.logger.With(
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("step", op.Step),
	)

	if op.IdentityID == "" {
		msg := "операция прервана до получения ID учётной записи"
		op.Status = model.OperationFailed
		op.LastError = &msg
		reconcileOperationsTotal.WithLabelValues("abandoned").Inc()
		log.Warn("Прерванная операция закрыта без дочистки, проверьте Keycloak вручную",
			slog.String("email", op.Email),
		)
		if err := s.ops.Update(ctx, op); err != nil {
			return false, fmt.Errorf("сохранение операции %s: %w", op.ID, err)
		}
		return false, nil
	}

	_, err := s.profiles.GetWithRole(ctx, op.IdentityID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		op.Status = model.OperationInconsistent
		op.Step = model.StepDeleteIdentity
		log.Warn("Прерванная операция оставила учётную запись без профиля",
			slog.String("identity_id", op.IdentityID),
		)
		return s.reconcile(ctx, op)
	case err != nil:
		return false, fmt.Errorf("проверка профиля %s: %w", op.IdentityID, err)
	}

	if op.Kind == model.OperationCreateUser {
		op.Status = model.OperationCompleted
		op.Step = model.StepDone
		op.LastError = nil
	} else {
		msg := "операция прервана до удаления профиля"
		op.Status = model.OperationFailed
		op.LastError = &msg
	}
	reconcileOperationsTotal.WithLabelValues("closed").Inc()
	log.Info("Прерванная операция закрыта",
		slog.String("identity_id", op.IdentityID),
		slog.String("status", string(op.Status)),
	)
	if err := s.ops.Update(ctx, op); err != nil {
		return false, fmt.Errorf("сохранение операции %s: %w", op.ID, err)
	}
	return true, nil
}
