package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	propmodels "legisla/internal/proposition/models"
	propstore "legisla/internal/proposition/store"
	"legisla/internal/routing"
	"legisla/internal/tramitation/models"
	"legisla/internal/tramitation/service"
	stepstore "legisla/internal/tramitation/store"
	id "legisla/pkg/domain"
	"legisla/pkg/requestcontext"
	"legisla/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	operator id.MemberID
	member   id.MemberID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	svc := service.New(propstore.NewInMemoryStore(), stepstore.NewInMemoryStore(), routing.Default())
	s.router = chi.NewRouter()
	New(svc, slog.New(slog.DiscardHandler), testutil.StaticValidator{}).Register(s.router)
	s.operator = id.MemberID(uuid.New())
	s.member = id.MemberID(uuid.New())
}

func (s *HandlerSuite) asOperator(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithBearer(req, requestcontext.RoleOperator, s.operator))
}

func (s *HandlerSuite) asLegislator(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithBearer(req, requestcontext.RoleLegislator, s.member))
}

func (s *HandlerSuite) submit(number int) *service.Transition {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/propositions", SubmitRequest{
		Type: "bill", Number: number, Year: 2025, Title: "School meals",
	})
	rr := s.asOperator(req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return testutil.UnmarshalResponse[service.Transition](s.T(), rr)
}

func (s *HandlerSuite) TestSubmitAndAdvance() {
	tr := s.submit(4)
	s.Equal(propmodels.TypeBill, tr.Proposition.Type)
	s.Equal(routing.TypeProtocol, tr.Current.RoutingType)

	path := "/propositions/" + tr.Proposition.ID.String()
	rr := s.asOperator(testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/advance", AdvanceRequest{Comment: "ok"}))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	adv := testutil.UnmarshalResponse[service.Transition](s.T(), rr)
	s.Equal(routing.TypeCommitteeLegal, adv.Current.RoutingType)
	s.Equal("ok", adv.Concluded.Comment)

	rr = s.asLegislator(testutil.NewRequest(s.T(), http.MethodGet, path+"/steps"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	history := testutil.UnmarshalResponse[struct {
		Steps []models.Step `json:"steps"`
	}](s.T(), rr)
	s.Len(history.Steps, 2)
}

func (s *HandlerSuite) TestAdvanceWithoutBody() {
	tr := s.submit(5)
	req := testutil.NewRequest(s.T(), http.MethodPost, "/propositions/"+tr.Proposition.ID.String()+"/advance")
	rr := s.asOperator(req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *HandlerSuite) TestErrors() {
	s.Run("duplicate submission conflicts", func() {
		s.submit(6)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/propositions", SubmitRequest{
			Type: "BILL", Number: 6, Year: 2025, Title: "Again",
		})
		rr := s.asOperator(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("reopen with an open step is an invalid transition", func() {
		tr := s.submit(7)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/propositions/"+tr.Proposition.ID.String()+"/reopen")
		rr := s.asOperator(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state_transition")
	})

	s.Run("bad finalize result", func() {
		tr := s.submit(8)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/propositions/"+tr.Proposition.ID.String()+"/finalize",
			map[string]string{"result": "TABLED"})
		rr := s.asOperator(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("malformed id", func() {
		rr := s.asLegislator(testutil.NewRequest(s.T(), http.MethodGet, "/propositions/not-a-uuid"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("unknown proposition", func() {
		rr := s.asLegislator(testutil.NewRequest(s.T(), http.MethodGet, "/propositions/"+uuid.NewString()))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("legislators cannot transition", func() {
		tr := s.submit(9)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/propositions/"+tr.Proposition.ID.String()+"/advance", AdvanceRequest{})
		rr := s.asLegislator(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("missing token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/propositions"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("unknown fields are rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/propositions", map[string]any{
			"type": "BILL", "number": 1, "year": 2025, "title": "x", "priority": "high",
		})
		rr := s.asOperator(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestListFiltersByStatus() {
	s.submit(10)
	tr := s.submit(11)
	rr := s.asOperator(testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/propositions/"+tr.Proposition.ID.String()+"/finalize", FinalizeRequest{Result: "ARCHIVED"}))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	rr = s.asLegislator(testutil.NewRequest(s.T(), http.MethodGet, "/propositions?status=archived"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	list := testutil.UnmarshalResponse[struct {
		Propositions []propmodels.Proposition `json:"propositions"`
	}](s.T(), rr)
	s.Require().Len(list.Propositions, 1)
	s.Equal(tr.Proposition.ID, list.Propositions[0].ID)
}
