package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/models"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the one response shape of every endpoint.
type Envelope struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

var errorStatus = []struct {
	target error
	status int
}{
	{models.ErrInvalidArgument, http.StatusBadRequest},
	{models.ErrInvalidCandidate, http.StatusBadRequest},
	{models.ErrUnauthorized, http.StatusUnauthorized},
	{models.ErrVoterBlocked, http.StatusForbidden},
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrSessionExpired, http.StatusGone},
	{models.ErrLedgerCorruption, http.StatusServiceUnavailable},
	{models.ErrInvalidTransition, http.StatusConflict},
	{models.ErrElectionNotLive, http.StatusConflict},
	{models.ErrElectionNotClosed, http.StatusConflict},
	{models.ErrAlreadyVoted, http.StatusConflict},
	{models.ErrSessionAlreadyActive, http.StatusConflict},
	{models.ErrSessionNotActive, http.StatusConflict},
	{models.ErrDuplicateVote, http.StatusConflict},
	{models.ErrDecryptionNotEnabled, http.StatusConflict},
	{models.ErrAlreadyPublished, http.StatusConflict},
	{models.ErrAlreadyRegistered, http.StatusConflict},
	{models.ErrRegistrationClosed, http.StatusConflict},
	{models.ErrKeysAlreadyGenerated, http.StatusConflict},
	{models.ErrKeysUnavailable, http.StatusConflict},
	{models.ErrInvalidKeyState, http.StatusConflict},
}

func HTTPStatus(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.target) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func Response(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Status: StatusOK, Data: data})
}

// ResponseError writes err in the envelope. data may carry a partial result,
// such as the existing session for session_already_active.
func ResponseError(c *gin.Context, err error, data interface{}) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logrus.WithField("module", "api").WithError(err).
			WithField("path", c.FullPath()).Error("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, Envelope{
		Status:  StatusError,
		Code:    models.ReasonCode(err),
		Message: msg,
		Data:    data,
	})
}
