package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"voting-ledger/models"
	"voting-ledger/service"
)

type TransitionRequest struct {
	Status models.ElectionStatus `json:"status"`
}

type RegisterVoterRequest struct {
	Commitment   string `json:"commitment"`
	Constituency string `json:"constituency,omitempty"`
}

type StartSessionRequest struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
}

type ViolationRequest struct {
	Kind string `json:"kind"`
}

type PublishRequest struct {
	OfficialStatement string `json:"official_statement,omitempty"`
}

type WarningRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ResultResponse struct {
	*models.Result
	SignatureValid bool `json:"signature_valid"`
}

type InclusionResponse struct {
	ElectionID string `json:"election_id"`
	LeafHash   string `json:"leaf_hash"`
	Included   bool   `json:"included"`
}

func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		ResponseError(c, errors.Wrap(models.ErrInvalidArgument, err.Error()), nil)
		return false
	}
	return true
}

// queryBool reads an optional boolean query parameter. A malformed value is
// rejected rather than read as false.
func queryBool(c *gin.Context, name string) (bool, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		ResponseError(c, errors.Wrapf(models.ErrInvalidArgument, "query parameter %s=%q is not a boolean", name, raw), nil)
		return false, false
	}
	return v, true
}

func (s *Server) health(c *gin.Context) {
	Response(c, http.StatusOK, gin.H{"service": "voting-ledger"})
}

func (s *Server) metrics(c *gin.Context) {
	Response(c, http.StatusOK, s.votingService.Metrics().GetMetrics())
}

// Elections

func (s *Server) createElection(c *gin.Context) {
	var spec service.ElectionSpec
	if !bind(c, &spec) {
		return
	}
	election, err := s.votingService.CreateElection(c.Request.Context(), principal(c), spec)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, election)
}

func (s *Server) listElections(c *gin.Context) {
	elections, err := s.votingService.ListElections(c.Request.Context())
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, elections)
}

func (s *Server) getElection(c *gin.Context) {
	election, err := s.votingService.GetElection(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, election)
}

func (s *Server) deleteElection(c *gin.Context) {
	if err := s.votingService.DeleteElection(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) transitionElection(c *gin.Context) {
	var req TransitionRequest
	if !bind(c, &req) {
		return
	}
	election, err := s.votingService.TransitionElection(c.Request.Context(), principal(c), c.Param("id"), req.Status)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, election)
}

func (s *Server) addCandidate(c *gin.Context) {
	var spec service.CandidateSpec
	if !bind(c, &spec) {
		return
	}
	candidate, err := s.votingService.AddCandidate(c.Request.Context(), principal(c), c.Param("id"), spec)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, candidate)
}

func (s *Server) listCandidates(c *gin.Context) {
	candidates, err := s.votingService.ListCandidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, candidates)
}

func (s *Server) registerVoter(c *gin.Context) {
	var req RegisterVoterRequest
	if !bind(c, &req) {
		return
	}
	voter, err := s.votingService.RegisterVoter(c.Request.Context(), c.Param("id"), req.Commitment, req.Constituency)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, voter)
}

func (s *Server) getVoter(c *gin.Context) {
	voter, err := s.votingService.GetVoter(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, voter)
}

// Keys and results

func (s *Server) generateKeys(c *gin.Context) {
	info, err := s.votingService.GenerateKeys(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, info)
}

func (s *Server) getKeyInfo(c *gin.Context) {
	info, err := s.votingService.GetKeyInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, info)
}

func (s *Server) enableDecryption(c *gin.Context) {
	info, err := s.votingService.EnableDecryption(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, info)
}

func (s *Server) publishResults(c *gin.Context) {
	var req PublishRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	result, err := s.votingService.PublishResults(c.Request.Context(), principal(c), c.Param("id"), req.OfficialStatement)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, ResultResponse{Result: result, SignatureValid: s.votingService.VerifyResult(result)})
}

func (s *Server) getResult(c *gin.Context) {
	result, err := s.votingService.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, ResultResponse{Result: result, SignatureValid: s.votingService.VerifyResult(result)})
}

// Sessions and votes

func (s *Server) startSession(c *gin.Context) {
	var req StartSessionRequest
	if !bind(c, &req) {
		return
	}
	session, err := s.votingService.StartSession(c.Request.Context(), req.VoterID, req.ElectionID)
	if errors.Is(err, models.ErrSessionAlreadyActive) {
		// the existing session is returned alongside the error
		ResponseError(c, err, session)
		return
	} else if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, session)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.votingService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, session)
}

// reportViolation answers 200 in both outcomes; the envelope status tells the
// client whether the voter may retry.
func (s *Server) reportViolation(c *gin.Context) {
	var req ViolationRequest
	if !bind(c, &req) {
		return
	}
	outcome, err := s.votingService.ReportViolation(c.Request.Context(), c.Param("id"), req.Kind)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, Envelope{
		Status:  string(outcome.Action),
		Message: outcome.Message,
		Data:    outcome,
	})
}

func (s *Server) castVote(c *gin.Context) {
	var req service.CastVoteRequest
	if !bind(c, &req) {
		return
	}
	receipt, err := s.votingService.CastVote(c.Request.Context(), &req)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, receipt)
}

// Receipts and audit

func (s *Server) getReceipt(c *gin.Context) {
	receipt, err := s.votingService.GetReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, receipt)
}

func (s *Server) verifyReceipt(c *gin.Context) {
	verification, err := s.votingService.VerifyReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, verification)
}

func (s *Server) inclusionProof(c *gin.Context) {
	proof, err := s.votingService.InclusionProof(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, proof)
}

func (s *Server) verifyInclusion(c *gin.Context) {
	leaf := c.Query("leaf")
	if leaf == "" {
		ResponseError(c, errors.Wrap(models.ErrInvalidArgument, "leaf is required"), nil)
		return
	}
	ok, err := s.votingService.VerifyInclusion(c.Request.Context(), c.Param("id"), leaf)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, InclusionResponse{ElectionID: c.Param("id"), LeafHash: leaf, Included: ok})
}

func (s *Server) getLedger(c *gin.Context) {
	snap, err := s.votingService.GetLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, snap)
}

// auditLedger returns the report even when the audit fails, so auditors see
// every problem found.
func (s *Server) auditLedger(c *gin.Context) {
	deep, ok := queryBool(c, "deep")
	if !ok {
		return
	}
	report, err := s.votingService.AuditLedger(c.Request.Context(), c.Param("id"), deep)
	if err != nil && report != nil {
		ResponseError(c, err, report)
		return
	} else if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, report)
}

func (s *Server) exportLedger(c *gin.Context) {
	path, err := s.votingService.ExportLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, gin.H{"file": path})
}

func (s *Server) auditLog(c *gin.Context) {
	entries, err := s.votingService.AuditLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, entries)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.votingService.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, stats)
}

func (s *Server) timeline(c *gin.Context) {
	events, err := s.votingService.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, events)
}

// Monitoring

func (s *Server) listWarnings(c *gin.Context) {
	unresolved, ok := queryBool(c, "unresolved")
	if !ok {
		return
	}
	warnings, err := s.votingService.ListWarnings(c.Request.Context(), principal(c), c.Param("id"), unresolved)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, warnings)
}

func (s *Server) addWarning(c *gin.Context) {
	var req WarningRequest
	if !bind(c, &req) {
		return
	}
	warning, err := s.votingService.AddWarning(c.Request.Context(), principal(c), c.Param("id"), req.Type, req.Message)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusCreated, warning)
}

func (s *Server) resolveWarning(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		ResponseError(c, errors.Wrapf(models.ErrInvalidArgument, "warning index %q", c.Param("index")), nil)
		return
	}
	warning, err := s.votingService.ResolveWarning(c.Request.Context(), principal(c), c.Param("id"), index)
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, warning)
}

func (s *Server) flaggedVoters(c *gin.Context) {
	voters, err := s.votingService.FlaggedVoters(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		ResponseError(c, err, nil)
		return
	}
	Response(c, http.StatusOK, voters)
}
