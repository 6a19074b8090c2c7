package eventlog

import "fmt"

// Subject derives the stream subject for a run's events. Tenanted subjects
// carry the tenant as segment index 3; legacy subjects omit it.
//
//	demon.ritual.v1.{tenant}.{ritual}.{run}.events   (tenanted)
//	demon.ritual.v1.{ritual}.{run}.events            (legacy)
func Subject(tenanted bool, tenantID, ritualID, runID string) string {
	if tenanted {
		return fmt.Sprintf("demon.ritual.v1.%s.%s.%s.events", tenantID, ritualID, runID)
	}
	return fmt.Sprintf("demon.ritual.v1.%s.%s.events", ritualID, runID)
}

// LegacySubject always returns the untenanted subject, used by dual-publish
// to additionally write to the pre-tenanting subject during migration.
func LegacySubject(ritualID, runID string) string {
	return Subject(false, "", ritualID, runID)
}

// RitualLifecycleMessageID derives the dedup id for a ritual lifecycle event,
// keyed by its position in that run's monotonic sequence.
func RitualLifecycleMessageID(runID string, monotonicSeq int64) string {
	return fmt.Sprintf("%s:%d", runID, monotonicSeq)
}

// ApprovalRequestedMessageID derives the dedup id for a gate's
// approval.requested event.
func ApprovalRequestedMessageID(runID, gateID string) string {
	return fmt.Sprintf("%s:approval:%s", runID, gateID)
}

// ApprovalGrantedMessageID derives the dedup id for a gate's grant.
func ApprovalGrantedMessageID(runID, gateID string) string {
	return ApprovalRequestedMessageID(runID, gateID) + ":granted"
}

// ApprovalDeniedMessageID derives the dedup id for a gate's explicit deny.
func ApprovalDeniedMessageID(runID, gateID string) string {
	return ApprovalRequestedMessageID(runID, gateID) + ":denied"
}

// ApprovalAutoDeniedMessageID derives the dedup id for a gate's TTL
// auto-deny. It is distinct from ApprovalDeniedMessageID so the id stays
// one-shot even under crash-replay, regardless of whether a human deny also
// raced the timer.
func ApprovalAutoDeniedMessageID(runID, gateID string) string {
	return ApprovalRequestedMessageID(runID, gateID) + ":auto-denied"
}

// ApprovalExpiryTimerKey derives both the dedup id for the
// timer.scheduled:v1 event and the timer wheel key for a gate's expiry timer.
func ApprovalExpiryTimerKey(runID, gateID string) string {
	return ApprovalRequestedMessageID(runID, gateID) + ":expiry"
}

// ApprovalExpiryScheduledMessageID derives the dedup id for the
// timer.scheduled:v1 event marking that the expiry timer was armed.
func ApprovalExpiryScheduledMessageID(runID, gateID string) string {
	return ApprovalExpiryTimerKey(runID, gateID) + ":scheduled"
}

// PolicyDecisionMessageID derives the dedup id for a policy.decision:v1
// event, keyed by capability and the nanosecond the decision was emitted.
func PolicyDecisionMessageID(runID, capability string, unixNanos int64) string {
	return fmt.Sprintf("%s:config-decision:%s:%d", runID, capability, unixNanos)
}

// GraphCommitMessageID derives the dedup id for a graph.commit.created:v1
// event.
func GraphCommitMessageID(tenantID, projectID, namespace, commitID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", tenantID, projectID, namespace, commitID)
}

// GraphTagMessageID derives the dedup id for a graph.tag.updated:v1 event.
func GraphTagMessageID(tenantID, projectID, namespace, tag string) string {
	return fmt.Sprintf("%s:%s:%s:tag:%s", tenantID, projectID, namespace, tag)
}
