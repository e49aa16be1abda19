package routeros

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmehdipour/isp-billing/internal/model"
)

// MemoryDevice is an in-process device. It backs the "mock" driver and tests.
type MemoryDevice struct {
	mu       sync.Mutex
	seq      int
	secrets  map[string]model.Secret
	sessions []model.Session
	fail     map[string]error
	calls    map[string]int
}

func NewMemoryDevice(seed ...model.Secret) *MemoryDevice {
	d := &MemoryDevice{
		secrets: make(map[string]model.Secret),
		fail:    make(map[string]error),
		calls:   make(map[string]int),
	}
	for _, s := range seed {
		if s.ID == "" {
			s.ID = d.nextID()
		}
		d.secrets[s.ID] = s
	}
	return d
}

var _ Device = (*MemoryDevice)(nil)

func (d *MemoryDevice) nextID() string {
	for {
		d.seq++
		id := fmt.Sprintf("*%X", d.seq)
		if _, taken := d.secrets[id]; !taken {
			return id
		}
	}
}

// FailOn makes every call of op return err until cleared with a nil err.
func (d *MemoryDevice) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

// Calls returns how many times op was invoked.
func (d *MemoryDevice) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// SetSessions replaces the active session table.
func (d *MemoryDevice) SetSessions(s []model.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append([]model.Session(nil), s...)
}

// Secret returns the secret with the given name.
func (d *MemoryDevice) Secret(name string) (model.Secret, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.secrets {
		if s.Name == name {
			return s, true
		}
	}
	return model.Secret{}, false
}

// begin records the call and returns the injected failure, if any. Caller holds d.mu.
func (d *MemoryDevice) begin(ctx context.Context, op string) error {
	d.calls[op]++
	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}
	if err := d.fail[op]; err != nil {
		return wrap(op, err)
	}
	return nil
}

func (d *MemoryDevice) ListSecrets(ctx context.Context) ([]model.Secret, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpListSecrets); err != nil {
		return nil, err
	}
	out := make([]model.Secret, 0, len(d.secrets))
	for _, s := range d.secrets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *MemoryDevice) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpListSessions); err != nil {
		return nil, err
	}
	return append([]model.Session(nil), d.sessions...), nil
}

func (d *MemoryDevice) AddSecret(ctx context.Context, spec model.SecretSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpAddSecret); err != nil {
		return "", err
	}
	service := spec.Service
	if service == "" {
		service = "pppoe"
	}
	id := d.nextID()
	d.secrets[id] = model.Secret{
		ID:       id,
		Name:     spec.Name,
		Password: spec.Password,
		Service:  service,
		Profile:  spec.Profile,
		Disabled: spec.Disabled,
		Comment:  spec.Comment,
	}
	return id, nil
}

func (d *MemoryDevice) UpdateSecret(ctx context.Context, id string, upd model.SecretUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpUpdateSecret); err != nil {
		return err
	}
	s, ok := d.secrets[id]
	if !ok {
		return wrap(OpUpdateSecret, ErrSecretNotFound)
	}
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.Password != nil {
		s.Password = *upd.Password
	}
	if upd.Profile != nil {
		s.Profile = *upd.Profile
	}
	if upd.Disabled != nil {
		s.Disabled = *upd.Disabled
	}
	if upd.Comment != nil {
		s.Comment = *upd.Comment
	}
	d.secrets[id] = s
	return nil
}

func (d *MemoryDevice) setDisabled(ctx context.Context, op, id string, disabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, op); err != nil {
		return err
	}
	s, ok := d.secrets[id]
	if !ok {
		return wrap(op, ErrSecretNotFound)
	}
	s.Disabled = disabled
	d.secrets[id] = s
	return nil
}

func (d *MemoryDevice) DisableSecret(ctx context.Context, id string) error {
	return d.setDisabled(ctx, OpDisableSecret, id, true)
}

func (d *MemoryDevice) EnableSecret(ctx context.Context, id string) error {
	return d.setDisabled(ctx, OpEnableSecret, id, false)
}

func (d *MemoryDevice) RemoveSecret(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpRemoveSecret); err != nil {
		return err
	}
	if _, ok := d.secrets[id]; !ok {
		return wrap(OpRemoveSecret, ErrSecretNotFound)
	}
	delete(d.secrets, id)
	return nil
}

// DemoSecrets is the seed data of the mock driver.
func DemoSecrets() []model.Secret {
	return []model.Secret{
		{ID: "*1", Name: "customer1", Password: "password1", Service: "pppoe", Profile: "basic-5m", Comment: "Customer 1 - Basic Plan"},
		{ID: "*2", Name: "customer2", Password: "password2", Service: "pppoe", Profile: "standard-10m", Comment: "Customer 2 - Standard Plan"},
		{ID: "*3", Name: "customer3", Password: "password3", Service: "pppoe", Profile: "premium-20m", Disabled: true, Comment: "Customer 3 - Premium Plan (Disabled)"},
	}
}

// DemoSessions is the session table of the mock driver.
func DemoSessions() []model.Session {
	return []model.Session{
		{ID: "*80000001", Name: "customer1", Service: "pppoe", CallerID: "00:11:22:33:44:55", Address: "192.168.1.100", Uptime: "2h34m15s", BytesIn: 123456789, BytesOut: 98765432, PacketsIn: 123456, PacketsOut: 98765},
		{ID: "*80000002", Name: "customer2", Service: "pppoe", CallerID: "00:11:22:33:44:56", Address: "192.168.1.101", Uptime: "1h12m33s", BytesIn: 98765432, BytesOut: 123456789, PacketsIn: 98765, PacketsOut: 123456},
	}
}
