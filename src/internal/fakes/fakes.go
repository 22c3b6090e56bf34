// Package fakes provides in-memory implementations of the control plane's
// external-interface contracts (repository, driver, event bus, archive
// store) for unit tests that exercise the kernel, admission workers, update
// worker, and reconciler without a live Postgres or LXD daemon.
package fakes

import (
	"context"
	"io"
	"sync"
	"time"

	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/islanderr"
	"islandctl/src/models"
)

// IslandRepo is an in-memory models.IslandRepository.
type IslandRepo struct {
	mu      sync.Mutex
	nextID  int64
	islands map[int64]*models.Island
}

func NewIslandRepo() *IslandRepo {
	return &IslandRepo{islands: make(map[int64]*models.Island)}
}

func (r *IslandRepo) Create(ctx context.Context, island *models.Island) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	island.ID = r.nextID
	if island.Status == "" {
		island.Status = models.IslandStatusPendingCreation
	}
	if island.InternalPort == 0 {
		island.InternalPort = 25565
	}
	now := time.Now().UTC()
	island.CreatedAt, island.UpdatedAt = now, now
	cp := *island
	r.islands[island.ID] = &cp
	return nil
}

func (r *IslandRepo) Get(ctx context.Context, id int64) (*models.Island, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.islands[id]
	if !ok {
		return nil, islanderr.NotFound("island not found", nil)
	}
	cp := *i
	return &cp, nil
}

func (r *IslandRepo) GetByPlayerUUID(ctx context.Context, playerUUID string) (*models.Island, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.islands {
		if i.PlayerUUID != nil && *i.PlayerUUID == playerUUID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, islanderr.NotFound("island not found", nil)
}

func (r *IslandRepo) GetByTeamID(ctx context.Context, teamID int64) (*models.Island, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.islands {
		if i.TeamID != nil && *i.TeamID == teamID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, islanderr.NotFound("island not found", nil)
}

func (r *IslandRepo) Update(ctx context.Context, island *models.Island) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.islands[island.ID]; !ok {
		return islanderr.NotFound("island not found", nil)
	}
	cp := *island
	cp.UpdatedAt = time.Now().UTC()
	r.islands[island.ID] = &cp
	return nil
}

func (r *IslandRepo) AtomicStatusUpdate(ctx context.Context, islandID int64, newStatus models.IslandStatus, extraFields map[string]interface{}) (*models.Island, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.islands[islandID]
	if !ok {
		return nil, islanderr.NotFound("island not found", nil)
	}
	i.Status = newStatus
	for k, v := range extraFields {
		switch k {
		case "internal_ip":
			if v == nil {
				i.InternalIP = nil
			} else {
				s := v.(string)
				i.InternalIP = &s
			}
		case "minecraft_ready":
			i.MinecraftReady = v.(bool)
		}
	}
	i.UpdatedAt = time.Now().UTC()
	cp := *i
	return &cp, nil
}

func (r *IslandRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.islands, id)
	return nil
}

func (r *IslandRepo) GetByStatus(ctx context.Context, status models.IslandStatus, limit int) ([]*models.Island, error) {
	return r.GetByStatuses(ctx, []models.IslandStatus{status}, limit)
}

func (r *IslandRepo) GetByStatuses(ctx context.Context, statuses []models.IslandStatus, limit int) ([]*models.Island, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[models.IslandStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*models.Island
	for _, i := range r.islands {
		if want[i.Status] {
			cp := *i
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *IslandRepo) CountByStatus(ctx context.Context, status models.IslandStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.islands {
		if i.Status == status {
			n++
		}
	}
	return n, nil
}

// TeamRepo is an in-memory models.TeamRepository.
type TeamRepo struct {
	mu     sync.Mutex
	nextID int64
	teams  map[int64]*models.Team
}

func NewTeamRepo() *TeamRepo {
	return &TeamRepo{teams: make(map[int64]*models.Team)}
}

func (r *TeamRepo) CreateTeam(ctx context.Context, team *models.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	team.ID = r.nextID
	cp := *team
	r.teams[team.ID] = &cp
	return nil
}

func (r *TeamRepo) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.teams {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, islanderr.NotFound("team not found", nil)
}

func (r *TeamRepo) GetTeamByID(ctx context.Context, id int64) (*models.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[id]
	if !ok {
		return nil, islanderr.NotFound("team not found", nil)
	}
	cp := *t
	return &cp, nil
}

func (r *TeamRepo) GetTeamByPlayer(ctx context.Context, playerUUID string) (*models.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.teams {
		for _, m := range t.Members {
			if m.PlayerUUID == playerUUID {
				cp := *t
				return &cp, nil
			}
		}
	}
	return nil, islanderr.NotFound("team not found", nil)
}

func (r *TeamRepo) AddMember(ctx context.Context, teamID int64, playerUUID string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return islanderr.NotFound("team not found", nil)
	}
	t.Members = append(t.Members, models.Member{TeamID: teamID, PlayerUUID: playerUUID, Role: role})
	return nil
}

func (r *TeamRepo) RemoveMember(ctx context.Context, teamID int64, playerUUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return islanderr.NotFound("team not found", nil)
	}
	for i, m := range t.Members {
		if m.PlayerUUID == playerUUID {
			t.Members = append(t.Members[:i], t.Members[i+1:]...)
			return nil
		}
	}
	return islanderr.NotFound("member not found", nil)
}

func (r *TeamRepo) GetMember(ctx context.Context, teamID int64, playerUUID string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return nil, islanderr.NotFound("team not found", nil)
	}
	for _, m := range t.Members {
		if m.PlayerUUID == playerUUID {
			cp := m
			return &cp, nil
		}
	}
	return nil, islanderr.NotFound("member not found", nil)
}

func (r *TeamRepo) CountMembers(ctx context.Context, teamID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return 0, islanderr.NotFound("team not found", nil)
	}
	return len(t.Members), nil
}

func (r *TeamRepo) DeleteTeam(ctx context.Context, teamID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.teams, teamID)
	return nil
}

// CreationQueue is an in-memory models.CreationQueueRepository.
type CreationQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string]*models.CreationQueueEntry
}

func NewCreationQueue() *CreationQueue {
	return &CreationQueue{entries: make(map[string]*models.CreationQueueEntry)}
}

func (q *CreationQueue) Add(ctx context.Context, playerUUID string, playerName *string) (*models.CreationQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	e := &models.CreationQueueEntry{ID: q.nextID, PlayerUUID: playerUUID, PlayerName: playerName, Status: models.QueueItemPending, RequestedAt: time.Now().UTC()}
	q.entries[playerUUID] = e
	return e, nil
}

func (q *CreationQueue) Next(ctx context.Context) (*models.CreationQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var oldest *models.CreationQueueEntry
	for _, e := range q.entries {
		if e.Status != models.QueueItemPending {
			continue
		}
		if oldest == nil || e.RequestedAt.Before(oldest.RequestedAt) {
			oldest = e
		}
	}
	return oldest, nil
}

func (q *CreationQueue) Remove(ctx context.Context, playerUUID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[playerUUID]
	delete(q.entries, playerUUID)
	return ok, nil
}

func (q *CreationQueue) UpdateStatus(ctx context.Context, playerUUID string, status models.QueueItemStatus) (*models.CreationQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[playerUUID]
	if !ok {
		return nil, islanderr.NotFound("queue entry not found", nil)
	}
	e.Status = status
	return e, nil
}

func (q *CreationQueue) Size(ctx context.Context, status *models.QueueItemStatus) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if status == nil {
		return len(q.entries), nil
	}
	n := 0
	for _, e := range q.entries {
		if e.Status == *status {
			n++
		}
	}
	return n, nil
}

// StartQueue is an in-memory models.StartQueueRepository.
type StartQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string]*models.StartQueueEntry
}

func NewStartQueue() *StartQueue {
	return &StartQueue{entries: make(map[string]*models.StartQueueEntry)}
}

func (q *StartQueue) Add(ctx context.Context, playerUUID string, playerName *string) (*models.StartQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	e := &models.StartQueueEntry{ID: q.nextID, PlayerUUID: playerUUID, PlayerName: playerName, Status: models.QueueItemPending, RequestedAt: time.Now().UTC()}
	q.entries[playerUUID] = e
	return e, nil
}

func (q *StartQueue) Next(ctx context.Context) (*models.StartQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var oldest *models.StartQueueEntry
	for _, e := range q.entries {
		if e.Status != models.QueueItemPending {
			continue
		}
		if oldest == nil || e.RequestedAt.Before(oldest.RequestedAt) {
			oldest = e
		}
	}
	return oldest, nil
}

func (q *StartQueue) Remove(ctx context.Context, playerUUID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[playerUUID]
	delete(q.entries, playerUUID)
	return ok, nil
}

func (q *StartQueue) UpdateStatus(ctx context.Context, playerUUID string, status models.QueueItemStatus) (*models.StartQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[playerUUID]
	if !ok {
		return nil, islanderr.NotFound("queue entry not found", nil)
	}
	e.Status = status
	return e, nil
}

// UpdateQueue is an in-memory models.UpdateQueueRepository.
type UpdateQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*models.UpdateQueueEntry
}

func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{entries: make(map[int64]*models.UpdateQueueEntry)}
}

func (q *UpdateQueue) AddIsland(ctx context.Context, islandID int64, playerUUID string) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	e := &models.UpdateQueueEntry{ID: q.nextID, IslandID: islandID, PlayerUUID: playerUUID, Status: models.UpdateQueuePending, AddedToQueueAt: time.Now().UTC()}
	q.entries[e.ID] = e
	return e, nil
}

func (q *UpdateQueue) GetByIslandID(ctx context.Context, islandID int64) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.IslandID == islandID {
			return e, nil
		}
	}
	return nil, islanderr.NotFound("update entry not found", nil)
}

func (q *UpdateQueue) NextPending(ctx context.Context) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var oldest *models.UpdateQueueEntry
	for _, e := range q.entries {
		if e.Status != models.UpdateQueuePending {
			continue
		}
		if oldest == nil || e.AddedToQueueAt.Before(oldest.AddedToQueueAt) {
			oldest = e
		}
	}
	return oldest, nil
}

func (q *UpdateQueue) AllPending(ctx context.Context) ([]*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.UpdateQueueEntry
	for _, e := range q.entries {
		if e.Status == models.UpdateQueuePending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *UpdateQueue) SetProcessing(ctx context.Context, entryID int64) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[entryID]
	if !ok {
		return nil, islanderr.NotFound("update entry not found", nil)
	}
	e.Status = models.UpdateQueueProcessing
	now := time.Now().UTC()
	e.ProcessingStartedAt = &now
	return e, nil
}

func (q *UpdateQueue) SetCompleted(ctx context.Context, entryID int64) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[entryID]
	if !ok {
		return nil, islanderr.NotFound("update entry not found", nil)
	}
	e.Status = models.UpdateQueueCompleted
	now := time.Now().UTC()
	e.CompletedAt = &now
	return e, nil
}

func (q *UpdateQueue) SetFailed(ctx context.Context, entryID int64, errMsg string, retryCount int) (*models.UpdateQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[entryID]
	if !ok {
		return nil, islanderr.NotFound("update entry not found", nil)
	}
	e.Status = models.UpdateQueueFailed
	e.ErrorMessage = &errMsg
	e.RetryCount = retryCount
	return e, nil
}

// Driver is an in-memory driver.Driver fake. Containers are tracked purely
// by name; hooks let tests inject failures on specific calls.
type Driver struct {
	mu         sync.Mutex
	containers map[string]*driver.ContainerState
	ips        map[string]string

	FailClone           error
	FailStart           error
	FailStop            error
	FailWaitIP          error
	FailPush            error
	FailSnapshotRestore error
	FailPullDir         error
	IPToAssign          string
}

func NewDriver() *Driver {
	return &Driver{containers: make(map[string]*driver.ContainerState), ips: make(map[string]string), IPToAssign: "10.0.0.5"}
}

func (d *Driver) Clone(ctx context.Context, sourceImageAlias, containerName string, opts driver.CloneOptions) (*driver.ContainerState, error) {
	if d.FailClone != nil {
		return nil, d.FailClone
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := &driver.ContainerState{Name: containerName, Status: "Stopped"}
	d.containers[containerName] = cs
	return cs, nil
}

func (d *Driver) Start(ctx context.Context, containerName string) error {
	if d.FailStart != nil {
		return d.FailStart
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[containerName]
	if !ok {
		return &driver.NotFoundError{Resource: containerName}
	}
	cs.Status = "Running"
	return nil
}

func (d *Driver) Stop(ctx context.Context, containerName string, force bool, timeout time.Duration) error {
	if d.FailStop != nil {
		return d.FailStop
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[containerName]
	if !ok {
		return &driver.NotFoundError{Resource: containerName}
	}
	cs.Status = "Stopped"
	return nil
}

func (d *Driver) Delete(ctx context.Context, containerName string, stopIfRunning bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.containers[containerName]
	delete(d.containers, containerName)
	return ok, nil
}

func (d *Driver) Freeze(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[containerName]
	if !ok {
		return &driver.NotFoundError{Resource: containerName}
	}
	cs.Status = "Frozen"
	return nil
}

func (d *Driver) Unfreeze(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[containerName]
	if !ok {
		return &driver.NotFoundError{Resource: containerName}
	}
	cs.Status = "Running"
	return nil
}

func (d *Driver) State(ctx context.Context, containerName string) (*driver.ContainerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.containers[containerName]
	if !ok {
		return nil, &driver.NotFoundError{Resource: containerName}
	}
	cp := *cs
	return &cp, nil
}

func (d *Driver) WaitIPv4(ctx context.Context, containerName string, attempts int, delay time.Duration) (string, error) {
	if d.FailWaitIP != nil {
		return "", d.FailWaitIP
	}
	return d.IPToAssign, nil
}

func (d *Driver) PushFile(ctx context.Context, containerName, targetPath string, content io.Reader, mode, uid, gid *int) error {
	return d.FailPush
}

func (d *Driver) PullFile(ctx context.Context, containerName, sourcePath string) ([]byte, error) {
	return nil, nil
}

func (d *Driver) Exec(ctx context.Context, containerName string, command []string) (int, string, string, error) {
	return 0, "", "", nil
}

func (d *Driver) SnapshotCreate(ctx context.Context, containerName, snapshotName string) error {
	return nil
}

func (d *Driver) SnapshotRestore(ctx context.Context, containerName, snapshotName string) error {
	return d.FailSnapshotRestore
}

func (d *Driver) SnapshotDelete(ctx context.Context, containerName, snapshotName string) error {
	return nil
}

func (d *Driver) PullDirectoryAsTar(ctx context.Context, containerName, containerPath string) ([]byte, error) {
	if d.FailPullDir != nil {
		return nil, d.FailPullDir
	}
	return []byte("fake-tar-contents"), nil
}

func (d *Driver) Exists(ctx context.Context, containerName string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.containers[containerName]
	return ok, nil
}

func (d *Driver) SetState(containerName, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[containerName] = &driver.ContainerState{Name: containerName, Status: status}
}

// Bus is an in-memory eventbus.Bus fake. Published messages are recorded
// for assertions; AcquireLeader always wins unless DenyLeader is set.
type Bus struct {
	mu         sync.Mutex
	Published  []eventbus.Message
	DenyLeader bool
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Publish(ctx context.Context, recipientIDs []string, eventType string, payload interface{}) error {
	msg, err := eventbus.NewMessage(recipientIDs, eventType, payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Published = append(b.Published, msg)
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, handler eventbus.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bus) AcquireLeader(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return !b.DenyLeader, nil
}

func (b *Bus) Close() error { return nil }

// Archive is an in-memory archive.Store fake.
type Archive struct {
	mu    sync.Mutex
	blobs map[string][]byte

	FailPut error
}

func NewArchive() *Archive { return &Archive{blobs: make(map[string][]byte)} }

func (a *Archive) Put(ctx context.Context, key string, content []byte) error {
	if a.FailPut != nil {
		return a.FailPut
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[key] = content
	return nil
}

func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blobs[key]
	if !ok {
		return nil, islanderr.NotFound("archive key not found", nil)
	}
	return b, nil
}

// Blobs returns the keys currently stored, for tests asserting a backup was
// (or wasn't) preserved.
func (a *Archive) Blobs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.blobs))
	for k := range a.blobs {
		keys = append(keys, k)
	}
	return keys
}

func (a *Archive) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.blobs, key)
	return nil
}
