package pdp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"maintenix.io/internal/auth"
	"maintenix.io/internal/obs"
)

// Decision reasons. The gateway relays them to the client verbatim.
const (
	ReasonMissingParams = "Missing parameters"
	ReasonUserNotFound  = "User not found"
	ReasonUserInactive  = "User not active"
	ReasonNoRoles       = "No roles assigned"
	ReasonGranted       = "Permission granted"
	ReasonDenied        = "Permission denied"
	ReasonUnavailable   = "Decision unavailable"
)

// Decision is the PDP verdict.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Decider answers (userId, permission) questions against live tenant data.
type Decider struct {
	store   auth.Store
	auditor auth.Auditor
	now     func() time.Time
}

// NewDecider builds a Decider. A nil auditor discards records.
func NewDecider(store auth.Store, auditor auth.Auditor) *Decider {
	if auditor == nil {
		auditor = discard{}
	}
	return &Decider{store: store, auditor: auditor, now: time.Now}
}

// Decide never returns an error: any failure to evaluate is a DENY.
// Every evaluated request produces exactly one audit record.
func (d *Decider) Decide(ctx context.Context, userID, permission string) Decision {
	userID = strings.TrimSpace(userID)
	permission = strings.TrimSpace(permission)
	if userID == "" || permission == "" {
		return d.count(Decision{Reason: ReasonMissingParams})
	}

	ctx, span := obs.Tracer("pdp").Start(ctx, "pdp.Decide")
	defer span.End()

	dec, user := d.evaluate(ctx, userID, permission)
	span.SetAttributes(
		attribute.String("pdp.permission", permission),
		attribute.Bool("pdp.allow", dec.Allow),
		attribute.String("pdp.reason", dec.Reason),
	)
	d.record(ctx, userID, permission, dec, user)
	return d.count(dec)
}

func (d *Decider) evaluate(ctx context.Context, userID, permission string) (Decision, *auth.User) {
	user, err := d.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Decision{Reason: ReasonUserNotFound}, nil
		}
		obs.Logger().Error("pdp user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return Decision{Reason: ReasonUnavailable}, nil
	}
	if !user.Active() {
		return Decision{Reason: ReasonUserInactive}, user
	}
	if len(user.Roles) == 0 {
		return Decision{Reason: ReasonNoRoles}, user
	}
	perms, err := d.EffectivePermissions(ctx, user)
	if err != nil {
		obs.Logger().Error("pdp role resolution failed", zap.String("user_id", userID), zap.Error(err))
		return Decision{Reason: ReasonUnavailable}, user
	}
	for _, p := range perms {
		if p == permission {
			return Decision{Allow: true, Reason: ReasonGranted}, user
		}
	}
	return Decision{Reason: ReasonDenied}, user
}

// EffectivePermissions unions the permissions of every role reachable from the
// user's assigned roles. Inactive users have none.
func (d *Decider) EffectivePermissions(ctx context.Context, user *auth.User) ([]string, error) {
	if !user.Active() || len(user.Roles) == 0 {
		return nil, nil
	}
	roles := d.store.Roles(ctx)
	edges, err := roles.Edges(ctx)
	if err != nil {
		return nil, err
	}
	closure := NewGraph(edges).Closure(user.Roles)
	perms, err := roles.Permissions(ctx, closure)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (d *Decider) record(ctx context.Context, userID, permission string, dec Decision, user *auth.User) {
	details := map[string]any{
		"permission": permission,
		"reason":     dec.Reason,
	}
	if user != nil {
		details["status"] = user.Status
	}
	action := "DENY"
	if dec.Allow {
		action = "ALLOW"
	}
	d.auditor.Record(ctx, auth.AuditRecord{
		EntityType: "rbac_decision",
		EntityID:   userID,
		Action:     action,
		ByUser:     userID,
		Timestamp:  d.now().UTC(),
		Details:    details,
	})
}

type discard struct{}

func (discard) Record(context.Context, auth.AuditRecord) {}

func (d *Decider) count(dec Decision) Decision {
	obs.PDPDecisions.WithLabelValues(strconv.FormatBool(dec.Allow), dec.Reason).Inc()
	return dec
}
