package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageLetterNotFound = "Letter not found"
	messageInvalidLetter  = "Title and content are required"
	messageMalformedBody  = "Invalid request body"
	messageFetchFailed    = "Failed to fetch letters"
	messageFetchOneFailed = "Failed to fetch letter"
	messageSaveFailed     = "Failed to save letter"
	messageDeleteFailed   = "Failed to delete letter"
	messageLetterDeleted  = "Letter deleted successfully"
	letterIDParameterName = "id"
)

type saveLetterPayload struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type saveLetterResponse struct {
	Letter  letters.Letter `json:"letter"`
	DriveID string         `json:"driveId"`
}

func (h *httpHandler) handleListLetters(c *gin.Context) {
	list, err := h.letters.List(c.Request.Context(), identityFromContext(c))
	if err != nil {
		h.writeLettersError(c, err, messageFetchFailed)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleGetLetter(c *gin.Context) {
	letter, err := h.letters.Get(c.Request.Context(), identityFromContext(c), letterIDParam(c))
	if err != nil {
		h.writeLettersError(c, err, messageFetchOneFailed)
		return
	}
	c.JSON(http.StatusOK, letter)
}

func (h *httpHandler) handleSaveLetter(c *gin.Context) {
	var payload saveLetterPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageMalformedBody})
		return
	}

	identity := identityFromContext(c)
	request := letters.NewSaveRequest(payload.ID, payload.Title, payload.Content)
	result, err := h.letters.Save(c.Request.Context(), identity, request)
	if err != nil {
		h.writeLettersError(c, err, messageSaveFailed)
		return
	}

	h.logger.Debug("letter saved",
		zap.String("user_id", identity.UserID),
		zap.String("letter_id", result.Letter.ID),
		zap.Bool("created", result.Created))
	h.realtime.LettersChanged(identity.UserID, result.Letter.ID)
	c.JSON(http.StatusOK, saveLetterResponse{Letter: result.Letter, DriveID: result.DriveID})
}

func (h *httpHandler) handleDeleteLetter(c *gin.Context) {
	identity := identityFromContext(c)
	letterID := letterIDParam(c)
	if err := h.letters.Delete(c.Request.Context(), identity, letterID); err != nil {
		h.writeLettersError(c, err, messageDeleteFailed)
		return
	}

	h.realtime.LettersChanged(identity.UserID, letterID)
	c.JSON(http.StatusOK, gin.H{"message": messageLetterDeleted})
}

// writeLettersError maps service errors onto the public error bodies. Anything
// that is not a caller mistake is reported with the generic fallback message.
func (h *httpHandler) writeLettersError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, letters.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
	case errors.Is(err, letters.ErrLetterNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": messageLetterNotFound})
	case errors.Is(err, letters.ErrInvalidLetter):
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidLetter})
	default:
		fields := []zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}
		var serviceErr *letters.ServiceError
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error("letters request failed", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func letterIDParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param(letterIDParameterName))
}
