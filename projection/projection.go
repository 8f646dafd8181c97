// Package projection implements C8: the projection coordinator tracking
// per-object rebuild status, TTL'd rebuild tokens, and checkpoint
// persistence (spec §4.8, §9). It is grounded on the teacher's
// materialize/sql/std_fence.go Fence (a fenced, versioned checkpoint record
// keyed by a shard/materialization identity, guarded against a stale writer
// resuming after a newer one has taken over) and on
// go/consumer/shard_spec.go's status state machine (a small enum plus
// explicit legal-transition checks) for the rebuild status machine.
package projection

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/telemetry"
	"github.com/eventledger/eventledger/vtoken"
)

const contentTypeJSON = "application/json"

// Status is the projection rebuild state machine (spec §4.8).
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRebuilding Status = "rebuilding"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// legalTransitions enumerates the state machine's allowed edges. StartRebuild
// rejects any transition not listed here with KindInvalidToken, the same
// way std_fence.go rejects a fence whose checkpoint revision has moved on;
// the one exception is a rebuilding projection whose token has expired,
// which StartRebuild restarts.
var legalTransitions = map[Status][]Status{
	StatusIdle:       {StatusRebuilding},
	StatusRebuilding: {StatusComplete, StatusFailed},
	StatusComplete:   {StatusRebuilding},
	StatusFailed:     {StatusRebuilding},
}

func canTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RebuildToken fences a single in-flight rebuild attempt: whoever holds the
// live, unexpired token is the only writer allowed to advance the
// projection's checkpoint (spec §4.8, "fencing").
type RebuildToken struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t RebuildToken) expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Checkpoint is the persisted coordinator record for one projection of one
// object (spec §4.8). Fingerprint lets a caller detect that the projection
// definition itself changed underneath a resumed rebuild (the teacher's
// std_fence.go equivalent is the materialization spec's build ID).
type Checkpoint struct {
	ObjectName      string          `json:"objectName"`
	ObjectID        string          `json:"objectId"`
	ProjectionName  string          `json:"projectionName"`
	Status          Status          `json:"status"`
	Token           *RebuildToken   `json:"token,omitempty"`
	Fingerprint     string          `json:"fingerprint,omitempty"`
	LastVersion     int64           `json:"lastVersion"`
	State           json.RawMessage `json:"state,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`

	etag string
}

func key(objectName, objectID, projectionName string) string {
	return vtoken.ObjectIdentifier(strings.ToLower(objectName), objectID) + "__" + projectionName
}

func path(objectName, objectID, projectionName string) string {
	return "projections/" + key(objectName, objectID, projectionName) + ".json"
}

// Coordinator manages Checkpoint records for every (objectName, objectID,
// projectionName) triple, backed by a single blob.Store.
type Coordinator struct {
	Blob blob.Store
	Log  logrus.FieldLogger
	// TokenTTL bounds how long a rebuild token remains valid without a
	// heartbeat; a crashed rebuilder's token simply expires and a later
	// caller is allowed to start a fresh attempt (spec §4.8).
	TokenTTL time.Duration
}

// New returns a Coordinator with a default 5-minute token TTL.
func New(b blob.Store, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{Blob: b, Log: log, TokenTTL: 5 * time.Minute}
}

// getOrCreate loads the checkpoint for the triple, creating an idle one in
// memory (not yet persisted) if none exists yet.
func (c *Coordinator) getOrCreate(ctx context.Context, objectName, objectID, projectionName string) (*Checkpoint, error) {
	p := path(objectName, objectID, projectionName)
	exists, err := c.Blob.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Checkpoint{
			ObjectName:     objectName,
			ObjectID:       objectID,
			ProjectionName: projectionName,
			Status:         StatusIdle,
		}, nil
	}
	props, err := c.Blob.GetProperties(ctx, p)
	if err != nil {
		return nil, err
	}
	body, err := c.Blob.DownloadBytes(ctx, p, props.ETag)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, errs.Wrap(errs.KindProcessingError, err, "unmarshaling checkpoint at %q", p)
	}
	cp.etag = props.ETag
	return &cp, nil
}

func (c *Coordinator) persist(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	body, err := json.Marshal(cp)
	if err != nil {
		return errs.Wrap(errs.KindProcessingError, err, "marshaling checkpoint")
	}
	p := path(cp.ObjectName, cp.ObjectID, cp.ProjectionName)
	cond := blob.Conditions{IfMatch: cp.etag}
	if cp.etag == "" {
		cond = blob.Conditions{IfNoneMatchAny: true}
	}
	res, err := c.Blob.UploadBytes(ctx, p, body, contentTypeJSON, cond)
	if err != nil {
		return err
	}
	cp.etag = res.ETag
	return nil
}

// Get returns the current checkpoint for (objectName, objectID,
// projectionName), or an idle, unpersisted zero-state checkpoint if a
// rebuild has never been started.
func (c *Coordinator) Get(ctx context.Context, objectName, objectID, projectionName string) (Checkpoint, error) {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return Checkpoint{}, err
	}
	return *cp, nil
}

// StartRebuild transitions the projection to rebuilding and mints a fresh
// RebuildToken, failing with KindInvalidToken if a live token from another
// attempt is already held (spec §4.8's single-writer-at-a-time fencing).
func (c *Coordinator) StartRebuild(ctx context.Context, objectName, objectID, projectionName, fingerprint string, now time.Time) (RebuildToken, error) {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return RebuildToken{}, err
	}

	if cp.Status == StatusRebuilding {
		if cp.Token != nil && !cp.Token.expired(now) {
			return RebuildToken{}, errors.Wrapf(
				errs.New(errs.KindInvalidToken, "rebuild already in progress, token %s expires %s", cp.Token.ID, cp.Token.ExpiresAt),
				"projection %s/%s/%s", objectName, objectID, projectionName)
		}
		// token expired with nobody renewing it: treat like any other
		// terminal status and fall through to starting a fresh attempt.
	} else if !canTransition(cp.Status, StatusRebuilding) {
		return RebuildToken{}, errs.New(errs.KindInvalidToken, "cannot start rebuild from status %q", cp.Status)
	}

	token := RebuildToken{ID: uuid.NewString(), IssuedAt: now, ExpiresAt: now.Add(c.TokenTTL)}
	cp.Status = StatusRebuilding
	cp.Token = &token
	cp.Fingerprint = fingerprint
	cp.UpdatedAt = now

	if err := c.persist(ctx, cp); err != nil {
		telemetry.ObserveProjectionRebuild(projectionName, "start_error")
		return RebuildToken{}, err
	}
	telemetry.ObserveProjectionRebuild(projectionName, "started")
	return token, nil
}

// Heartbeat extends token's expiry, failing with KindInvalidToken if token
// no longer matches the live checkpoint token (another attempt took over or
// the rebuild already finished).
func (c *Coordinator) Heartbeat(ctx context.Context, objectName, objectID, projectionName string, token RebuildToken, now time.Time) error {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return err
	}
	if err := c.checkToken(cp, token, now); err != nil {
		return err
	}
	cp.Token.ExpiresAt = now.Add(c.TokenTTL)
	cp.UpdatedAt = now
	return c.persist(ctx, cp)
}

// Checkpoint advances lastVersion and the projected state under token,
// failing with KindInvalidToken if a newer attempt has since fenced this
// one off.
func (c *Coordinator) Checkpoint(ctx context.Context, objectName, objectID, projectionName string, token RebuildToken, lastVersion int64, state json.RawMessage, now time.Time) error {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return err
	}
	if err := c.checkToken(cp, token, now); err != nil {
		return err
	}
	cp.LastVersion = lastVersion
	cp.State = state
	cp.UpdatedAt = now
	return c.persist(ctx, cp)
}

// Complete transitions the projection to complete and clears its token.
func (c *Coordinator) Complete(ctx context.Context, objectName, objectID, projectionName string, token RebuildToken, now time.Time) error {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return err
	}
	if err := c.checkToken(cp, token, now); err != nil {
		return err
	}
	cp.Status = StatusComplete
	cp.Token = nil
	cp.UpdatedAt = now
	if err := c.persist(ctx, cp); err != nil {
		return err
	}
	telemetry.ObserveProjectionRebuild(projectionName, "complete")
	return nil
}

// Fail transitions the projection to failed and clears its token, leaving
// lastVersion/state untouched so a future rebuild can decide whether to
// resume from them or start over.
func (c *Coordinator) Fail(ctx context.Context, objectName, objectID, projectionName string, token RebuildToken, now time.Time) error {
	cp, err := c.getOrCreate(ctx, objectName, objectID, projectionName)
	if err != nil {
		return err
	}
	if err := c.checkToken(cp, token, now); err != nil {
		return err
	}
	cp.Status = StatusFailed
	cp.Token = nil
	cp.UpdatedAt = now
	if err := c.persist(ctx, cp); err != nil {
		return err
	}
	telemetry.ObserveProjectionRebuild(projectionName, "failed")
	return nil
}

func (c *Coordinator) checkToken(cp *Checkpoint, token RebuildToken, now time.Time) error {
	if cp.Status != StatusRebuilding || cp.Token == nil {
		return errs.New(errs.KindInvalidToken, "projection %s/%s/%s is not mid-rebuild", cp.ObjectName, cp.ObjectID, cp.ProjectionName)
	}
	if cp.Token.ID != token.ID {
		return errs.New(errs.KindInvalidToken, "stale rebuild token %s; current token is %s", token.ID, cp.Token.ID)
	}
	if cp.Token.expired(now) {
		return errs.New(errs.KindInvalidToken, "rebuild token %s expired at %s", token.ID, cp.Token.ExpiresAt)
	}
	return nil
}
