// internal/handlers/errors.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/settlement-backend/internal/i18n"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

var statusByCode = map[services.ErrorCode]int{
	services.CodeLedgerUnavailable:   http.StatusServiceUnavailable,
	services.CodePriceUnavailable:    http.StatusServiceUnavailable,
	services.CodeSoldOut:             http.StatusConflict,
	services.CodeForbidden:           http.StatusForbidden,
	services.CodeInsufficientReserve: http.StatusUnprocessableEntity,
	services.CodeInsufficientBalance: http.StatusUnprocessableEntity,
	services.CodeInvalidListing:      http.StatusNotFound,
	services.CodeListingExists:       http.StatusConflict,
	services.CodeDuplicateSettlement: http.StatusConflict,
	services.CodeSubmissionRejected:  http.StatusUnprocessableEntity,
	services.CodeRecordFailed:        http.StatusInternalServerError,
	services.CodeInvalidRequest:      http.StatusBadRequest,
}

// settlementErrorDetails is what a client needs to act on a failure.
type settlementErrorDetails struct {
	TxHash    string `json:"tx_hash,omitempty"`
	Retryable bool   `json:"retryable"`
}

// respondError renders err. Typed settlement errors keep their code and get a
// localized message; anything else is an internal error and is not echoed.
func respondError(c *gin.Context, err error) {
	se, ok := services.AsSettlementError(err)
	if !ok {
		c.Error(err)
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled request error")
		utils.InternalErrorResponse(c, "")
		return
	}

	status, known := statusByCode[se.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}

	lang := utils.GetLangFromContext(c)
	message := i18n.TOr(lang, i18n.KeyErrorPrefix+string(se.Code), se.Message)
	utils.ErrorResponse(c, status, string(se.Code), message, settlementErrorDetails{
		TxHash:    se.TxHash,
		Retryable: se.Retryable(),
	})
}

// currentUserID reads the authenticated caller. It writes the 401 itself.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.UnauthorizedResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthInvalidToken))
		return uuid.Nil, false
	}
	return userID, true
}

// pathUUID parses a UUID route parameter, answering 400 when it is malformed.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes and validates the body into req, answering 400 on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
