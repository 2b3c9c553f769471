package testutil

import (
	"context"
	"sync"

	"github.com/rayven122/tumiki-sub015/internal/store"
)

// FakeStore is an in-memory store.Store with call counters.
type FakeStore struct {
	mu sync.Mutex

	Servers  map[string]*store.McpServer
	APIKeys  map[string]*store.APIKey
	Users    map[string]*store.User
	Orgs     map[string]bool
	Members  map[string]bool
	Logs     []store.RequestLog
	Calls    map[string]int
	Err      error
	InsertCh chan store.RequestLog
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Servers: make(map[string]*store.McpServer),
		APIKeys: make(map[string]*store.APIKey),
		Users:   make(map[string]*store.User),
		Orgs:    make(map[string]bool),
		Members: make(map[string]bool),
		Calls:   make(map[string]int),
	}
}

// AddServer registers srv and its organization.
func (f *FakeStore) AddServer(srv *store.McpServer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range srv.Instances {
		srv.Instances[i].ServerID = srv.ID
	}

	f.Servers[srv.ID] = srv
	f.Orgs[srv.OrganizationID] = true
}

// AddUser registers u as a member of organizationID.
func (f *FakeStore) AddUser(u *store.User, organizationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Users[u.ID] = u
	f.Orgs[organizationID] = true
	f.Members[organizationID+"/"+u.ID] = true
}

// AddAPIKey registers key under its hash.
func (f *FakeStore) AddAPIKey(key *store.APIKey) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.APIKeys[key.HashedKey] = key
}

// CallCount returns how often method was invoked.
func (f *FakeStore) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Calls[method]
}

// RequestLogs returns a copy of inserted records.
func (f *FakeStore) RequestLogs() []store.RequestLog {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]store.RequestLog(nil), f.Logs...)
}

func (f *FakeStore) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls[method]++

	return f.Err
}

// GetServerByID implements store.MetadataStore.
func (f *FakeStore) GetServerByID(_ context.Context, id string) (*store.McpServer, bool, error) {
	if err := f.enter("GetServerByID"); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	srv, ok := f.Servers[id]

	return srv, ok, nil
}

// GetServerBySlug implements store.MetadataStore.
func (f *FakeStore) GetServerBySlug(_ context.Context, organizationID, slug string) (*store.McpServer, bool, error) {
	if err := f.enter("GetServerBySlug"); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, srv := range f.Servers {
		if srv.OrganizationID == organizationID && srv.Slug == slug {
			return srv, true, nil
		}
	}

	return nil, false, nil
}

// GetInstance implements store.MetadataStore.
func (f *FakeStore) GetInstance(_ context.Context, serverID, normalizedName string) (*store.ServerInstance, bool, error) {
	if err := f.enter("GetInstance"); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	srv, ok := f.Servers[serverID]
	if !ok {
		return nil, false, nil
	}

	for i := range srv.Instances {
		if srv.Instances[i].NormalizedName == normalizedName {
			inst := srv.Instances[i]

			return &inst, true, nil
		}
	}

	return nil, false, nil
}

// ListInstances implements store.MetadataStore.
func (f *FakeStore) ListInstances(_ context.Context, serverID string) ([]store.ServerInstance, error) {
	if err := f.enter("ListInstances"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if srv, ok := f.Servers[serverID]; ok {
		return append([]store.ServerInstance(nil), srv.Instances...), nil
	}

	return nil, nil
}

// GetAPIKeyByHash implements store.MetadataStore.
func (f *FakeStore) GetAPIKeyByHash(_ context.Context, hashedKey string) (*store.APIKey, bool, error) {
	if err := f.enter("GetAPIKeyByHash"); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key, ok := f.APIKeys[hashedKey]

	return key, ok, nil
}

func (f *FakeStore) findUser(match func(*store.User) bool) (*store.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.Users {
		if match(u) {
			return u, true
		}
	}

	return nil, false
}

// GetUserBySubject implements store.MetadataStore.
func (f *FakeStore) GetUserBySubject(_ context.Context, subject string) (*store.User, bool, error) {
	if err := f.enter("GetUserBySubject"); err != nil {
		return nil, false, err
	}

	u, ok := f.findUser(func(u *store.User) bool { return u.Subject != "" && u.Subject == subject })

	return u, ok, nil
}

// GetUserByEmail implements store.MetadataStore.
func (f *FakeStore) GetUserByEmail(_ context.Context, email string) (*store.User, bool, error) {
	if err := f.enter("GetUserByEmail"); err != nil {
		return nil, false, err
	}

	u, ok := f.findUser(func(u *store.User) bool { return u.Email != "" && u.Email == email })

	return u, ok, nil
}

// OrganizationExists implements store.MetadataStore.
func (f *FakeStore) OrganizationExists(_ context.Context, organizationID string) (bool, error) {
	if err := f.enter("OrganizationExists"); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Orgs[organizationID], nil
}

// IsMember implements store.MetadataStore.
func (f *FakeStore) IsMember(_ context.Context, organizationID, userID string) (bool, error) {
	if err := f.enter("IsMember"); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Members[organizationID+"/"+userID], nil
}

// InsertRequestLog implements store.RequestLogSink.
func (f *FakeStore) InsertRequestLog(_ context.Context, rec *store.RequestLog) error {
	if err := f.enter("InsertRequestLog"); err != nil {
		return err
	}

	f.mu.Lock()
	f.Logs = append(f.Logs, *rec)
	ch := f.InsertCh
	f.mu.Unlock()

	if ch != nil {
		ch <- *rec
	}

	return nil
}

// Ping implements store.Store.
func (f *FakeStore) Ping(context.Context) error {
	return f.enter("Ping")
}

// Close implements store.Store.
func (f *FakeStore) Close() {}
