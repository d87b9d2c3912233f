package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/events"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/repository"
)

// fakeIDP — in-memory Keycloak.
type fakeIDP struct {
	mu        sync.Mutex
	users     map[string]keycloak.NewUser
	nextID    int
	createErr error
	deleteErr error
	deleted   []string
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{users: make(map[string]keycloak.NewUser)}
}

func (f *fakeIDP) CreateUser(_ context.Context, u keycloak.NewUser) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("00000000-0000-0000-0000-%012d", f.nextID)
	f.users[id] = u
	return id, nil
}

func (f *fakeIDP) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[id]; !ok {
		return &keycloak.APIError{StatusCode: 404, Message: "User not found"}
	}
	delete(f.users, id)
	return nil
}

// fakeRoles — справочник ролей.
type fakeRoles struct {
	roles []model.Role
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: []model.Role{
		{ID: 1, Name: "super_admin"},
		{ID: 2, Name: "admin"},
		{ID: 3, Name: "professionnel"},
		{ID: 4, Name: "client"},
	}}
}

func (f *fakeRoles) List(context.Context) ([]model.Role, error) {
	return append([]model.Role(nil), f.roles...), nil
}

func (f *fakeRoles) GetByID(_ context.Context, id int) (*model.Role, error) {
	for _, r := range f.roles {
		if r.ID == id {
			role := r
			return &role, nil
		}
	}
	return nil, repository.ErrNotFound
}

// fakeProfiles — таблица profiles.
type fakeProfiles struct {
	roles     *fakeRoles
	rows      map[string]model.UserProfile
	upsertErr error
	deleteErr error
	lookups   int

	// afterLookup вызывается после чтения роли и до возврата результата
	afterLookup func()
}

func newFakeProfiles(roles *fakeRoles) *fakeProfiles {
	return &fakeProfiles{roles: roles, rows: make(map[string]model.UserProfile)}
}

func (f *fakeProfiles) withRole(p model.UserProfile) model.UserWithRole {
	u := model.UserWithRole{UserProfile: p}
	if r, err := f.roles.GetByID(context.Background(), p.RoleID); err == nil {
		u.Role = *r
	}
	return u
}

func (f *fakeProfiles) ListWithRoles(context.Context) ([]model.UserWithRole, error) {
	out := make([]model.UserWithRole, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, f.withRole(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeProfiles) GetWithRole(_ context.Context, id string) (*model.UserWithRole, error) {
	p, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := f.withRole(p)
	return &u, nil
}

func (f *fakeProfiles) GetRoleName(ctx context.Context, id string) (string, error) {
	f.lookups++
	u, err := f.GetWithRole(ctx, id)
	if f.afterLookup != nil {
		f.afterLookup()
	}
	if err != nil {
		return "", err
	}
	return u.Role.Name, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, p *model.UserProfile) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[p.ID] = *p
	return nil
}

func (f *fakeProfiles) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeProfiles) Stats(context.Context) (model.UserStats, error) {
	var s model.UserStats
	for _, p := range f.rows {
		s.Total++
		if p.IsActive {
			s.Active++
		} else {
			s.Inactive++
		}
	}
	return s, nil
}

func (f *fakeProfiles) ChangeRole(context.Context, string, string) error {
	return nil
}

// fakeOps — журнал операций.
type fakeOps struct {
	ops       map[string]*model.ProvisioningOperation
	order     []string
	history   map[string][]model.OperationStatus
	createErr error
	updateErr error
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		ops:     make(map[string]*model.ProvisioningOperation),
		history: make(map[string][]model.OperationStatus),
	}
}

func (f *fakeOps) Create(_ context.Context, op *model.ProvisioningOperation) error {
	if f.createErr != nil {
		return f.createErr
	}
	if op.ID == "" {
		op.ID = fmt.Sprintf("op-%d", len(f.order)+1)
	}
	op.CreatedAt = time.Now()
	op.UpdatedAt = op.CreatedAt
	cp := *op
	f.ops[op.ID] = &cp
	f.order = append(f.order, op.ID)
	f.history[op.ID] = append(f.history[op.ID], op.Status)
	return nil
}

func (f *fakeOps) Update(_ context.Context, op *model.ProvisioningOperation) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.ops[op.ID]; !ok {
		return repository.ErrNotFound
	}
	op.UpdatedAt = time.Now()
	cp := *op
	f.ops[op.ID] = &cp
	f.history[op.ID] = append(f.history[op.ID], op.Status)
	return nil
}

func (f *fakeOps) GetByID(_ context.Context, id string) (*model.ProvisioningOperation, error) {
	op, ok := f.ops[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (f *fakeOps) List(_ context.Context, flt repository.OperationFilter) ([]*model.ProvisioningOperation, error) {
	var out []*model.ProvisioningOperation
	for _, id := range f.order {
		op := f.ops[id]
		if flt.Status != "" && op.Status != flt.Status {
			continue
		}
		if flt.Kind != "" && op.Kind != flt.Kind {
			continue
		}
		if flt.MaxAttempts > 0 && op.Attempts >= flt.MaxAttempts {
			continue
		}
		if !flt.UpdatedBefore.IsZero() && !op.UpdatedAt.Before(flt.UpdatedBefore) {
			continue
		}
		cp := *op
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeOps) Count(ctx context.Context, flt repository.OperationFilter) (int, error) {
	ops, err := f.List(ctx, flt)
	return len(ops), err
}

// last возвращает последнюю созданную операцию.
func (f *fakeOps) last() *model.ProvisioningOperation {
	if len(f.order) == 0 {
		return nil
	}
	return f.ops[f.order[len(f.order)-1]]
}

// fakeChanger — RoleChanger с записью вызовов.
type fakeChanger struct {
	err   error
	calls [][3]string
}

func (f *fakeChanger) ChangeRoleAs(_ context.Context, callerID, targetUserID, newRoleName string) error {
	f.calls = append(f.calls, [3]string{callerID, targetUserID, newRoleName})
	return f.err
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}
