package handler

import (
	"strings"

	propmodels "legisla/internal/proposition/models"
	"legisla/internal/routing"
	"legisla/internal/tramitation/models"
	dErrors "legisla/pkg/domain-errors"
)

const maxObservationLength = 2000

// SubmitRequest is the body of POST /propositions.
type SubmitRequest struct {
	Type    string `json:"type"`
	Number  int    `json:"number"`
	Year    int    `json:"year"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	if !propmodels.Type(r.Type).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be one of BILL, RESOLUTION, DECREE, MOTION, REQUEST, AMENDMENT")
	}
	if strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	return nil
}

// AdvanceRequest is the optional body of POST /propositions/{id}/advance.
type AdvanceRequest struct {
	Comment string `json:"comment"`
}

func (r *AdvanceRequest) Validate() error {
	return checkObservations(r.Comment)
}

// FinalizeRequest is the body of POST /propositions/{id}/finalize.
type FinalizeRequest struct {
	Result       string `json:"result"`
	Observations string `json:"observations"`

	parsedResult models.Result
}

func (r *FinalizeRequest) Validate() error {
	result, err := models.ParseResult(r.Result)
	if err != nil {
		return err
	}
	r.parsedResult = result
	return checkObservations(r.Observations)
}

func (r *FinalizeRequest) ParsedResult() models.Result {
	return r.parsedResult
}

// ManualStepRequest is the body of POST /propositions/{id}/steps.
type ManualStepRequest struct {
	RoutingType  string `json:"routing_type"`
	TargetUnit   string `json:"target_unit"`
	Observations string `json:"observations"`
}

func (r *ManualStepRequest) Validate() error {
	r.RoutingType = strings.ToUpper(strings.TrimSpace(r.RoutingType))
	if r.RoutingType == "" {
		return dErrors.New(dErrors.CodeValidation, "routing_type is required")
	}
	return checkObservations(r.Observations)
}

func (r *ManualStepRequest) ParsedRoutingType() routing.Type {
	return routing.Type(r.RoutingType)
}

// VetoRequest is the optional body of POST /propositions/{id}/veto.
type VetoRequest struct {
	Observations string `json:"observations"`
}

func (r *VetoRequest) Validate() error {
	return checkObservations(r.Observations)
}

func checkObservations(s string) error {
	if len(s) > maxObservationLength {
		return dErrors.New(dErrors.CodeValidation, "observations must be 2000 characters or less")
	}
	return nil
}
