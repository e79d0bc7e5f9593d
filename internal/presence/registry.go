package presence

import "sort"

// DefaultLives is how many sweep ticks a device survives without a heartbeat.
const DefaultLives = 3

// Status says which collection a record is in.
type Status int

const (
	// StatusNew marks a device that heartbeats but is not provisioned.
	StatusNew Status = iota + 1

	// StatusConnected marks a provisioned device that heartbeats.
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Classification is the presence answer given to heartbeats and status
// queries.
type Classification string

const (
	ClassNew          Classification = "new"
	ClassConnected    Classification = "connected"
	ClassDisconnected Classification = "disconnected"
)

// Record is the registry entry for one device.
type Record struct {
	DeviceID string
	Lives    int
	Status   Status
}

// Registry holds the devices the tracker has heard from recently.
//
// A device id appears at most once, tagged new or connected.
//
// Thread Safety:
//   - Registry is NOT safe for concurrent use. The tracker only touches it
//     from its event loop goroutine.
type Registry struct {
	records map[string]*Record
	lives   int
}

// NewRegistry creates an empty registry whose records start with lives.
// Non-positive lives means DefaultLives.
func NewRegistry(lives int) *Registry {
	if lives <= 0 {
		lives = DefaultLives
	}
	return &Registry{
		records: make(map[string]*Record),
		lives:   lives,
	}
}

// TouchNew records a heartbeat from an unprovisioned device.
// The record is created if absent and its lives are reset.
// Returns true if the device was not in the registry before.
func (r *Registry) TouchNew(id string) bool {
	rec, ok := r.records[id]
	if !ok {
		r.records[id] = &Record{DeviceID: id, Lives: r.lives, Status: StatusNew}
		return true
	}
	rec.Lives = r.lives
	rec.Status = StatusNew
	return false
}

// TouchConnected records a heartbeat from a provisioned device.
// The record is created if absent, moved to connected and its lives reset.
func (r *Registry) TouchConnected(id string) {
	rec, ok := r.records[id]
	if !ok {
		r.records[id] = &Record{DeviceID: id, Lives: r.lives, Status: StatusConnected}
		return
	}
	rec.Lives = r.lives
	rec.Status = StatusConnected
}

// Promote moves a device from new to connected with full lives.
// Returns true if the device was new. A device that was absent is added as
// connected; one that was already connected only has its lives reset.
func (r *Registry) Promote(id string) bool {
	rec, ok := r.records[id]
	wasNew := ok && rec.Status == StatusNew
	r.TouchConnected(id)
	return wasNew
}

// Sweep decrements every record by one life and removes those that reach
// zero. It iterates over a snapshot of the keys, so the registry can be
// mutated freely afterwards. Evicted records are returned sorted by id with
// their status at eviction time.
func (r *Registry) Sweep() []Record {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var evicted []Record
	for _, id := range ids {
		rec := r.records[id]
		if rec.Lives > 0 {
			rec.Lives--
		}
		if rec.Lives == 0 {
			evicted = append(evicted, *rec)
			delete(r.records, id)
		}
	}
	return evicted
}

// Classify returns the presence classification of id.
func (r *Registry) Classify(id string) Classification {
	rec, ok := r.records[id]
	if !ok {
		return ClassDisconnected
	}
	if rec.Status == StatusConnected {
		return ClassConnected
	}
	return ClassNew
}

// Lookup returns a copy of the record for id.
func (r *Registry) Lookup(id string) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	return len(r.records)
}

// Count returns the number of records with the given status.
func (r *Registry) Count(s Status) int {
	n := 0
	for _, rec := range r.records {
		if rec.Status == s {
			n++
		}
	}
	return n
}

// Snapshot returns copies of all records sorted by id.
func (r *Registry) Snapshot() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
