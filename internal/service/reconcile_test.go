package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/keycloak"
)

// seedInconsistent добавляет несогласованную операцию в журнал.
func seedInconsistent(t *testing.T, ops *fakeOps, kind model.OperationKind, identityID string, attempts int) string {
	t.Helper()
	op := &model.ProvisioningOperation{
		Kind:       kind,
		Status:     model.OperationInconsistent,
		Step:       model.StepDeleteIdentity,
		IdentityID: identityID,
		Attempts:   attempts,
	}
	if err := ops.Create(context.Background(), op); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return op.ID
}

// TestReconcile_RunNow — учётные записи удаляются, статусы зависят от типа операции.
func TestReconcile_RunNow(t *testing.T) {
	idp := newFakeIDP()
	ops := newFakeOps()

	createdID, _ := idp.CreateUser(context.Background(), keycloak.NewUser{Email: "a@x.com"})
	deletedID, _ := idp.CreateUser(context.Background(), keycloak.NewUser{Email: "b@x.com"})
	createOp := seedInconsistent(t, ops, model.OperationCreateUser, createdID, 0)
	deleteOp := seedInconsistent(t, ops, model.OperationDeleteUser, deletedID, 2)
	// Учётная запись уже удалена вручную: 404 — тоже успех
	goneOp := seedInconsistent(t, ops, model.OperationDeleteUser, "gone", 0)

	svc := NewReconcileService(idp, ops, newFakeProfiles(newFakeRoles()), time.Hour, 5, 15*time.Minute, slog.Default())
	result, err := svc.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	if result.Checked != 3 || result.Resolved != 3 || result.Failed != 0 {
		t.Errorf("result = %+v, ожидается 3/3/0", result)
	}
	if len(idp.users) != 0 {
		t.Errorf("осталось %d учётных записей", len(idp.users))
	}

	wantStatus := map[string]model.OperationStatus{
		createOp: model.OperationCompensated,
		deleteOp: model.OperationCompleted,
		goneOp:   model.OperationCompleted,
	}
	for id, want := range wantStatus {
		op := ops.ops[id]
		if op.Status != want {
			t.Errorf("операция %s: статус = %s, ожидается %s", id, op.Status, want)
		}
		if op.Step != model.StepDone || op.LastError != nil {
			t.Errorf("операция %s: step=%s last_error=%v", id, op.Step, op.LastError)
		}
	}
	if ops.ops[deleteOp].Attempts != 3 {
		t.Errorf("Attempts = %d, ожидается 3", ops.ops[deleteOp].Attempts)
	}
}

// TestReconcile_Failure — при ошибке увеличивается число попыток.
func TestReconcile_Failure(t *testing.T) {
	idp := newFakeIDP()
	idp.deleteErr = errors.New("connection refused")
	ops := newFakeOps()
	id := seedInconsistent(t, ops, model.OperationDeleteUser, "u-1", 0)

	svc := NewReconcileService(idp, ops, newFakeProfiles(newFakeRoles()), time.Hour, 2, 15*time.Minute, slog.Default())

	for i := 1; i <= 3; i++ {
		if _, err := svc.RunNow(context.Background()); err != nil {
			t.Fatalf("RunNow: %v", err)
		}
	}

	op := ops.ops[id]
	if op.Status != model.OperationInconsistent {
		t.Errorf("статус = %s, ожидается inconsistent", op.Status)
	}
	// Третий проход не выбирает операцию: attempts достиг максимума
	if op.Attempts != 2 {
		t.Errorf("Attempts = %d, ожидается 2", op.Attempts)
	}
	if op.LastError == nil || *op.LastError != "connection refused" {
		t.Errorf("LastError = %v", op.LastError)
	}
	if len(idp.deleted) != 2 {
		t.Errorf("вызовов DeleteUser = %d, ожидается 2", len(idp.deleted))
	}
}

// TestReconcile_Retry — ручной повтор игнорирует лимит попыток.
func TestReconcile_Retry(t *testing.T) {
	idp := newFakeIDP()
	ops := newFakeOps()
	identity, _ := idp.CreateUser(context.Background(), keycloak.NewUser{Email: "a@x.com"})
	id := seedInconsistent(t, ops, model.OperationCreateUser, identity, 10)

	svc := NewReconcileService(idp, ops, newFakeProfiles(newFakeRoles()), time.Hour, 3, 15*time.Minute, slog.Default())
	op, err := svc.Retry(context.Background(), id)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if op.Status != model.OperationCompensated {
		t.Errorf("статус = %s, ожидается compensated", op.Status)
	}
	if op.Attempts != 11 {
		t.Errorf("Attempts = %d, ожидается 11", op.Attempts)
	}
}

// TestReconcile_RetryUpdateError — несохранённый результат не отдаётся как успех.
func TestReconcile_RetryUpdateError(t *testing.T) {
	idp := newFakeIDP()
	ops := newFakeOps()
	identity, _ := idp.CreateUser(context.Background(), keycloak.NewUser{Email: "a@x.com"})
	id := seedInconsistent(t, ops, model.OperationCreateUser, identity, 0)
	ops.updateErr = errors.New("conn closed")

	svc := NewReconcileService(idp, ops, newFakeProfiles(newFakeRoles()), time.Hour, 3, 15*time.Minute, slog.Default())
	op, err := svc.Retry(context.Background(), id)
	if !errors.Is(err, ops.updateErr) {
		t.Fatalf("ошибка = %v, ожидается ошибка сохранения", err)
	}
	if op != nil {
		t.Errorf("op = %+v, ожидается nil", op)
	}
	if ops.ops[id].Status != model.OperationInconsistent {
		t.Errorf("статус в журнале = %s, ожидается inconsistent", ops.ops[id].Status)
	}
}

// seedPending добавляет операцию в pending с заданным возрастом.
func seedPending(t *testing.T, ops *fakeOps, kind model.OperationKind, step, identityID string, age time.Duration) string {
	t.Helper()
	op := &model.ProvisioningOperation{
		Kind:       kind,
		Status:     model.OperationPending,
		Step:       step,
		IdentityID: identityID,
		Email:      "stale@x.com",
	}
	if err := ops.Create(context.Background(), op); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ops.ops[op.ID].UpdatedAt = time.Now().Add(-age)
	return op.ID
}

// TestReconcile_StalePending — прерванные операции разбираются по наличию профиля.
func TestReconcile_StalePending(t *testing.T) {
	ctx := context.Background()
	idp := newFakeIDP()
	ops := newFakeOps()
	profiles := newFakeProfiles(newFakeRoles())

	withProfile, _ := idp.CreateUser(ctx, keycloak.NewUser{Email: "p@x.com"})
	profiles.rows[withProfile] = model.UserProfile{ID: withProfile, RoleID: 4}
	orphan, _ := idp.CreateUser(ctx, keycloak.NewUser{Email: "o@x.com"})
	kept, _ := idp.CreateUser(ctx, keycloak.NewUser{Email: "k@x.com"})
	profiles.rows[kept] = model.UserProfile{ID: kept, RoleID: 4}
	half, _ := idp.CreateUser(ctx, keycloak.NewUser{Email: "h@x.com"})
	fresh, _ := idp.CreateUser(ctx, keycloak.NewUser{Email: "f@x.com"})

	noID := seedPending(t, ops, model.OperationCreateUser, model.StepCreateIdentity, "", time.Hour)
	created := seedPending(t, ops, model.OperationCreateUser, model.StepUpsertProfile, withProfile, time.Hour)
	orphaned := seedPending(t, ops, model.OperationCreateUser, model.StepUpsertProfile, orphan, time.Hour)
	notStarted := seedPending(t, ops, model.OperationDeleteUser, model.StepDeleteProfile, kept, time.Hour)
	halfDeleted := seedPending(t, ops, model.OperationDeleteUser, model.StepDeleteIdentity, half, time.Hour)
	inFlight := seedPending(t, ops, model.OperationCreateUser, model.StepUpsertProfile, fresh, time.Minute)

	svc := NewReconcileService(idp, ops, profiles, time.Hour, 3, 15*time.Minute, slog.Default())
	result, err := svc.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.Checked != 5 || result.Resolved != 4 || result.Failed != 1 {
		t.Errorf("result = %+v, ожидается 5/4/1", result)
	}

	wantStatus := map[string]model.OperationStatus{
		noID:        model.OperationFailed,
		created:     model.OperationCompleted,
		orphaned:    model.OperationCompensated,
		notStarted:  model.OperationFailed,
		halfDeleted: model.OperationCompleted,
		inFlight:    model.OperationPending,
	}
	for id, want := range wantStatus {
		if got := ops.ops[id].Status; got != want {
			t.Errorf("операция %s: статус = %s, ожидается %s", id, got, want)
		}
	}

	for _, id := range []string{orphan, half} {
		if _, ok := idp.users[id]; ok {
			t.Errorf("учётная запись %s должна быть удалена", id)
		}
	}
	for _, id := range []string{withProfile, kept, fresh} {
		if _, ok := idp.users[id]; !ok {
			t.Errorf("учётная запись %s не должна удаляться", id)
		}
	}
	if ops.ops[noID].LastError == nil {
		t.Error("у операции без ID учётной записи ожидается LastError")
	}
}

// TestReconcile_RetryErrors проверяет ошибки ручного повтора.
func TestReconcile_RetryErrors(t *testing.T) {
	ops := newFakeOps()
	done := &model.ProvisioningOperation{Kind: model.OperationDeleteUser, Status: model.OperationCompleted}
	_ = ops.Create(context.Background(), done)

	svc := NewReconcileService(newFakeIDP(), ops, newFakeProfiles(newFakeRoles()), time.Hour, 3, 15*time.Minute, slog.Default())

	if _, err := svc.Retry(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидается ErrNotFound", err)
	}
	if _, err := svc.Retry(context.Background(), done.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("ошибка = %v, ожидается ErrConflict", err)
	}
}

// TestReconcile_StartStop проверяет запуск и остановку фоновой горутины.
func TestReconcile_StartStop(t *testing.T) {
	idp := newFakeIDP()
	ops := newFakeOps()
	identity, _ := idp.CreateUser(context.Background(), keycloak.NewUser{Email: "a@x.com"})
	id := seedInconsistent(t, ops, model.OperationDeleteUser, identity, 0)

	svc := NewReconcileService(idp, ops, newFakeProfiles(newFakeRoles()), 20*time.Millisecond, 3, 15*time.Minute, slog.Default())
	svc.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	svc.Stop()

	if ops.ops[id].Status != model.OperationCompleted {
		t.Errorf("статус = %s, ожидается completed", ops.ops[id].Status)
	}
}
