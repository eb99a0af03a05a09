package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/attendance/models"
	"legisla/internal/attendance/store"
	plenarymodels "legisla/internal/plenary/models"
	plenarystore "legisla/internal/plenary/store"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/audit/publishers/compliance"
	auditmemory "legisla/pkg/platform/audit/store/memory"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/requestcontext"
)

// =============================================================================
// Attendance Service Test Suite
// =============================================================================
// Justification for unit tests: presence marks carry timestamp rules and the
// quorum arithmetic feeds both voting managers.

type AttendanceServiceSuite struct {
	suite.Suite
	sessions   *plenarystore.InMemoryStore
	store      *store.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	service    *Service
	session    *plenarymodels.Session
	now        time.Time
	ctx        context.Context
}

func TestAttendanceServiceSuite(t *testing.T) {
	suite.Run(t, new(AttendanceServiceSuite))
}

func (s *AttendanceServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.now = time.Date(2025, 5, 6, 18, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	s.sessions = plenarystore.NewInMemoryStore()
	session, err := plenarymodels.NewSession(id.SessionID(uuid.New()), "Ordinary", s.now, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.CreateSession(s.ctx, session))
	s.session = session

	s.service = New(s.store, s.sessions,
		WithQuorumMinimum(2),
		WithAuditPublisher(compliance.New(s.auditStore)),
	)
}

func (s *AttendanceServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

// =============================================================================
// MarkPresent
// =============================================================================

func (s *AttendanceServiceSuite) TestMarkPresent() {
	member := id.MemberID(uuid.New())

	s.Run("arrival is stamped once", func() {
		r, err := s.service.MarkPresent(s.ctx, s.session.ID, member, true, "")
		s.Require().NoError(err)
		s.True(r.Present)
		s.Require().NotNil(r.ArrivedAt)
		s.True(s.now.Equal(*r.ArrivedAt))

		again, err := s.service.MarkPresent(s.at(time.Minute), s.session.ID, member, true, "")
		s.Require().NoError(err)
		s.True(s.now.Equal(*again.ArrivedAt))
	})

	s.Run("departure keeps the arrival", func() {
		r, err := s.service.MarkPresent(s.at(time.Hour), s.session.ID, member, false, "medical appointment")
		s.Require().NoError(err)
		s.False(r.Present)
		s.Require().NotNil(r.DepartedAt)
		s.True(s.now.Add(time.Hour).Equal(*r.DepartedAt))
		s.Require().NotNil(r.ArrivedAt)
		s.Equal("medical appointment", r.Justification)
	})

	s.Run("only changes are audited", func() {
		events, err := s.auditStore.ListBySubject(s.ctx, "session:"+s.session.ID.String())
		s.Require().NoError(err)
		s.Len(events, 2)
	})
}

func (s *AttendanceServiceSuite) TestMarkPresentErrors() {
	_, err := s.service.MarkPresent(s.ctx, id.SessionID(uuid.New()), id.MemberID(uuid.New()), true, "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.MarkPresent(s.ctx, s.session.ID, id.MemberID{}, true, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.service.MarkPresent(s.ctx, s.session.ID, id.MemberID(uuid.New()), false, string(long))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *AttendanceServiceSuite) TestConcurrentMarksKeepOneRecordPerMember() {
	member := id.MemberID(uuid.New())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(present bool) {
			defer wg.Done()
			_, err := s.service.MarkPresent(s.ctx, s.session.ID, member, present, "")
			s.NoError(err)
		}(i%2 == 0)
	}
	wg.Wait()

	records, err := s.service.List(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Len(records, 1)
}

// =============================================================================
// Quorum
// =============================================================================

func (s *AttendanceServiceSuite) TestQuorum() {
	q, err := s.service.Quorum(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(0, q.Present)
	s.False(q.Reached)

	for i := 0; i < 2; i++ {
		_, err := s.service.MarkPresent(s.ctx, s.session.ID, id.MemberID(uuid.New()), true, "")
		s.Require().NoError(err)
	}
	q, err = s.service.Quorum(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(2, q.Present)
	s.Equal(2, q.Minimum)
	s.True(q.Reached)

	_, err = s.service.Quorum(s.ctx, id.SessionID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *AttendanceServiceSuite) TestCommitteeQuorum() {
	committee := id.CommitteeID(uuid.New())
	roster := []id.MemberID{
		id.MemberID(uuid.New()), id.MemberID(uuid.New()), id.MemberID(uuid.New()),
		id.MemberID(uuid.New()), id.MemberID(uuid.New()),
	}
	frozen := id.NewMemberSet(roster)
	outsider := id.MemberID(uuid.New())

	s.Run("below majority", func() {
		q, err := s.service.CommitteeQuorum(s.ctx, committee, frozen, []id.MemberID{roster[0], roster[1], roster[1], outsider})
		s.True(dErrors.HasCode(err, dErrors.CodeQuorumNotMet))
		s.True(dErrors.IsRetryable(err))
		s.Equal(2, q.Present)
		s.Equal(3, q.Minimum)
	})

	s.Run("at majority", func() {
		q, err := s.service.CommitteeQuorum(s.ctx, committee, frozen, roster[:3])
		s.Require().NoError(err)
		s.True(q.Reached)
	})

	s.Run("empty roster never reaches quorum", func() {
		q, err := s.service.CommitteeQuorum(s.ctx, committee, id.NewMemberSet(nil), roster)
		s.True(dErrors.HasCode(err, dErrors.CodeQuorumNotMet))
		s.Equal(0, q.Present)
	})
}

// =============================================================================
// Store failures
// =============================================================================

// conflictingStore fails reads the way the Postgres store reports a
// serialization failure.
type conflictingStore struct {
	*store.InMemoryStore
}

func (conflictingStore) Find(context.Context, id.SessionID, id.MemberID) (*models.Record, error) {
	return nil, fmt.Errorf("find attendance: %w", sentinel.ErrConflict)
}

func (s *AttendanceServiceSuite) TestSerializationFailureIsRetryableConflict() {
	svc := New(conflictingStore{s.store}, s.sessions)

	_, err := svc.MarkPresent(s.ctx, s.session.ID, id.MemberID(uuid.New()), true, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(dErrors.IsRetryable(err))
}
