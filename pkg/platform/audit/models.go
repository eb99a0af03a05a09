package audit

import (
	"time"

	id "legisla/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers acts with legal significance: outcomes,
	// vetoes, and anything that changes a proposition's standing. These are
	// written fail-closed inside the transaction that performs the act.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine floor activity such as attendance
	// and individual vote casts.
	CategoryOperations EventCategory = "operations"
)

// Event is one row of the legislative audit trail. It is transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the authenticated member or operator who performed the act.
	// Nil for system-driven transitions.
	ActorID id.MemberID
	// Subject is the primary entity, e.g. "proposition:<id>".
	Subject   string
	Action    string
	Detail    string
	RequestID string
}

type AuditEvent string

const (
	// Tramitation
	EventPropositionSubmitted AuditEvent = "proposition_submitted"
	EventStepAdvanced         AuditEvent = "step_advanced"
	EventStepReopened         AuditEvent = "step_reopened"
	EventStepFinalized        AuditEvent = "step_finalized"
	EventManualStepCreated    AuditEvent = "manual_step_created"
	EventPropositionVetoed    AuditEvent = "proposition_vetoed"

	// Plenary
	EventSessionCreated    AuditEvent = "session_created"
	EventAgendaItemAdded   AuditEvent = "agenda_item_added"
	EventDiscussionStarted AuditEvent = "discussion_started"
	EventItemPostponed     AuditEvent = "agenda_item_postponed"
	EventItemWithdrawn     AuditEvent = "agenda_item_withdrawn"
	EventVotingOpened      AuditEvent = "voting_opened"
	EventPlenaryVoteCast   AuditEvent = "plenary_vote_cast"
	EventVotingClosed      AuditEvent = "voting_closed"

	// Committee opinions
	EventOpinionCreated    AuditEvent = "opinion_created"
	EventOpinionSubmitted  AuditEvent = "opinion_submitted_for_vote"
	EventOpinionVoteCast   AuditEvent = "opinion_vote_cast"
	EventOpinionVoteClosed AuditEvent = "opinion_vote_closed"
	EventOpinionIssued     AuditEvent = "opinion_issued"
	EventOpinionArchived   AuditEvent = "opinion_archived"

	// Attendance
	EventAttendanceMarked AuditEvent = "attendance_marked"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventPropositionSubmitted: CategoryCompliance,
	EventStepAdvanced:         CategoryCompliance,
	EventStepReopened:         CategoryCompliance,
	EventStepFinalized:        CategoryCompliance,
	EventManualStepCreated:    CategoryCompliance,
	EventPropositionVetoed:    CategoryCompliance,
	EventVotingOpened:         CategoryCompliance,
	EventVotingClosed:         CategoryCompliance,
	EventOpinionCreated:       CategoryCompliance,
	EventOpinionSubmitted:     CategoryCompliance,
	EventOpinionVoteClosed:    CategoryCompliance,
	EventOpinionIssued:        CategoryCompliance,
	EventOpinionArchived:      CategoryCompliance,

	EventSessionCreated:    CategoryOperations,
	EventAgendaItemAdded:   CategoryOperations,
	EventDiscussionStarted: CategoryOperations,
	EventItemPostponed:     CategoryOperations,
	EventItemWithdrawn:     CategoryOperations,
	EventPlenaryVoteCast:   CategoryOperations,
	EventOpinionVoteCast:   CategoryOperations,
	EventAttendanceMarked:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
