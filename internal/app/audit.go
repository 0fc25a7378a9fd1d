package app

import (
	"context"
	"encoding/json"
	"time"

	"pulsewire/internal/dispatch"
	"pulsewire/internal/eventbus"
	"pulsewire/internal/router"
	"pulsewire/internal/scheduler"
	"pulsewire/internal/storage"
	logx "pulsewire/pkg/logx"
)

// auditEntry maps a bus event to an audit row. Per-recipient events are not
// audited; the finished event carries the totals.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch d := e.Data.(type) {
	case dispatch.FinishedEvent:
		ent := storage.AuditEntry{
			At: at, Component: "dispatch", Action: "finished", Target: d.BroadcastID,
			OK: d.Result.Sent, Fail: d.Result.Failed, TookMS: d.Took.Milliseconds(),
			MetaJSON: metaJSON(map[string]any{"organization_id": d.OrganizationID, "eligible": d.Result.TotalEligible}),
		}
		if d.Result.Sent == 0 && len(d.Result.Errors) > 0 {
			ent.Error = d.Result.Errors[0]
		}
		return ent, true
	case router.CompletedEvent:
		return storage.AuditEntry{
			At: at, Component: "router", Action: "completed", Target: d.BroadcastID, OK: 1,
			MetaJSON: metaJSON(map[string]any{"employee_id": d.EmployeeID, "context_id": d.ContextID, "kind": d.Kind}),
		}, true
	case router.RejectedEvent:
		return storage.AuditEntry{
			At: at, Component: "router", Action: "rejected", Target: d.BroadcastID, Fail: 1,
			Error:    d.Reason,
			MetaJSON: metaJSON(map[string]any{"sender": d.Sender}),
		}, true
	case scheduler.ExpiredEvent:
		return storage.AuditEntry{At: at, Component: "scheduler", Action: "expired", OK: int(d.Count)}, true
	}
	return storage.AuditEntry{}, false
}

func metaJSON(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// runAudit persists pipeline events until ctx is done. The bus drops events
// for a slow subscriber, so audit rows are best-effort.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			ent, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := store.AppendAudit(wctx, ent); err != nil {
				log.Warn("audit write failed", logx.String("type", e.Type), logx.Err(err))
			}
			cancel()
		}
	}
}
