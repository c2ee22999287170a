package state

import (
	"encoding/json"
	"errors"
	"time"
)

// Construct buckets, one per kind of construct.
const (
	BucketFirewalls  = "firewalls"
	BucketNamespaces = "namespaces"
	BucketInterfaces = "interfaces"
)

// Lifecycle states of a construct.
const (
	StatusAbsent   = "absent"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Record is what podnet last did to one construct: its status, the verb
// that produced it and the spec it was built from.
type Record struct {
	Identity  string          `json:"identity"`
	Status    string          `json:"status"`
	Verb      string          `json:"verb"`
	Spec      json.RawMessage `json:"spec,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DecodeSpec unmarshals the stored spec into v. It reports false when no
// spec was stored.
func (r *Record) DecodeSpec(v any) (bool, error) {
	if len(r.Spec) == 0 || string(r.Spec) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(r.Spec, v)
}

// Records provides typed access to the construct record of one bucket.
type Records struct {
	store  Store
	bucket string
}

// NewRecords creates an accessor for bucket, creating it if needed.
func NewRecords(store Store, bucket string) (*Records, error) {
	if err := store.CreateBucket(bucket); err != nil && !errors.Is(err, ErrBucketExists) {
		return nil, err
	}
	return &Records{store: store, bucket: bucket}, nil
}

// Get returns the record for identity, or nil if none was ever written.
func (r *Records) Get(identity string) (*Record, error) {
	var rec Record
	entry, err := r.store.GetWithMeta(r.bucket, identity)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = entry.UpdatedAt
	return &rec, nil
}

// Put records status for identity. A nil spec keeps the previously stored
// spec, so verbs that do not take a spec do not erase it.
func (r *Records) Put(identity, status, verb string, spec any) (*Record, error) {
	rec := &Record{Identity: identity, Status: status, Verb: verb}
	if spec != nil {
		data, err := json.Marshal(spec)
		if err != nil {
			return nil, err
		}
		rec.Spec = data
	} else if prev, err := r.Get(identity); err != nil {
		return nil, err
	} else if prev != nil {
		rec.Spec = prev.Spec
	}

	if err := r.store.SetJSON(r.bucket, identity, rec); err != nil {
		return nil, err
	}
	return r.Get(identity)
}

// Status returns the recorded status, StatusAbsent when nothing is recorded.
func (r *Records) Status(identity string) (string, error) {
	rec, err := r.Get(identity)
	if err != nil || rec == nil {
		return StatusAbsent, err
	}
	return rec.Status, nil
}

// List returns every identity in the bucket.
func (r *Records) List() ([]string, error) {
	return r.store.ListKeys(r.bucket)
}

// History returns the status transitions recorded for identity, oldest
// first.
func (r *Records) History(identity string) ([]Record, error) {
	changes, err := r.store.History(r.bucket, identity)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(changes))
	for _, c := range changes {
		if c.Type == ChangeDelete {
			continue
		}
		var rec Record
		if err := json.Unmarshal(c.Value, &rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = c.Timestamp
		out = append(out, rec)
	}
	return out, nil
}
