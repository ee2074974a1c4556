package cloudshell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MemoryAPI keeps reservations in memory. When an artifact directory is set,
// attachments are also written to <dir>/<reservation id>/<name>.
type MemoryAPI struct {
	artifactDir string
	logger      *zap.Logger

	mu           sync.RWMutex
	reservations map[string]*reservation
}

type reservation struct {
	resources   []Resource
	attachments map[string][]byte
	keepAlive   map[string]bool
}

var (
	_ API        = (*MemoryAPI)(nil)
	_ KeepAliver = (*MemoryAPI)(nil)
)

func NewMemoryAPI(artifactDir string, logger *zap.Logger) *MemoryAPI {
	return &MemoryAPI{
		artifactDir:  artifactDir,
		logger:       logger,
		reservations: make(map[string]*reservation),
	}
}

// AddResources adds resources to a reservation, creating it on first use. A
// resource with an existing name replaces the previous one.
func (m *MemoryAPI) AddResources(reservationID string, resources ...Resource) error {
	if reservationID == "" {
		return errors.New("reservation id is required")
	}
	for _, r := range resources {
		if r.Name == "" {
			return errors.New("resource name is required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.reservation(reservationID)
	for _, r := range resources {
		r.Attributes = copyAttributes(r.Attributes)
		replaced := false
		for i := range res.resources {
			if res.resources[i].Name == r.Name {
				res.resources[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			res.resources = append(res.resources, r)
		}
	}
	return nil
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// reservation returns the reservation, creating it. Caller holds m.mu.
func (m *MemoryAPI) reservation(id string) *reservation {
	res, ok := m.reservations[id]
	if !ok {
		res = &reservation{
			attachments: make(map[string][]byte),
			keepAlive:   make(map[string]bool),
		}
		m.reservations[id] = res
	}
	return res
}

func (m *MemoryAPI) lookup(id string) (*reservation, error) {
	res, ok := m.reservations[id]
	if !ok {
		return nil, errors.Errorf("reservation %s not found", id)
	}
	return res, nil
}

func (m *MemoryAPI) ResourcesFromReservation(ctx context.Context, rcc ResourceCommandContext, model string) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, err := m.lookup(rcc.ReservationID)
	if err != nil {
		return nil, err
	}
	var out []Resource
	for _, r := range res.resources {
		if r.Model == model {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryAPI) FamilyAttribute(ctx context.Context, rcc ResourceCommandContext, resource, attribute string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, err := m.lookup(rcc.ReservationID)
	if err != nil {
		return "", err
	}
	for _, r := range res.resources {
		if r.Name != resource {
			continue
		}
		v, ok := r.Attributes[attribute]
		if !ok {
			return "", errors.Errorf("resource %s has no attribute %q", resource, attribute)
		}
		return v, nil
	}
	return "", errors.Errorf("resource %s not found in reservation %s", resource, rcc.ReservationID)
}

func (m *MemoryAPI) SetFamilyAttribute(ctx context.Context, rcc ResourceCommandContext, resource, attribute, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.lookup(rcc.ReservationID)
	if err != nil {
		return err
	}
	for i := range res.resources {
		if res.resources[i].Name == resource {
			res.resources[i].Attributes[attribute] = value
			return nil
		}
	}
	return errors.Errorf("resource %s not found in reservation %s", resource, rcc.ReservationID)
}

func (m *MemoryAPI) AttachFile(ctx context.Context, rcc ResourceCommandContext, name string, data []byte) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.Errorf("invalid attachment name %q", name)
	}

	m.mu.Lock()
	res, err := m.lookup(rcc.ReservationID)
	if err == nil {
		res.attachments[name] = append([]byte(nil), data...)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if m.artifactDir == "" {
		return nil
	}
	dir := filepath.Join(m.artifactDir, filepath.Base(rcc.ReservationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create artifact directory")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write artifact")
	}
	m.logger.Info("artifact written", zap.String("path", path))
	return nil
}

// Attachment returns an attached file.
func (m *MemoryAPI) Attachment(reservationID, name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return nil, false
	}
	data, ok := res.attachments[name]
	return data, ok
}

func (m *MemoryAPI) EnqueueKeepAlive(ctx context.Context, rcc ResourceCommandContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.lookup(rcc.ReservationID)
	if err != nil {
		return err
	}
	res.keepAlive[rcc.ServiceName] = true
	return nil
}

// KeepAliveEnqueued reports whether keep_alive was enqueued for the service.
func (m *MemoryAPI) KeepAliveEnqueued(reservationID, service string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.reservations[reservationID]
	return ok && res.keepAlive[service]
}
