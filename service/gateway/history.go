package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gutche/yappin/logger"
	"github.com/gutche/yappin/middleware/security"
	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/tools/errs"
)

// HistoryPage is the paginated history response.
type HistoryPage struct {
	Messages        []model.Message `json:"messages"`
	HasMoreMessages bool            `json:"hasMoreMessages"`
}

// HandleMessages serves GET /messages?conversationId&offset for walking a
// conversation back past what hydration loaded. Only participants of the
// conversation may read it.
func (s *Server) HandleMessages(c *gin.Context) {
	convID := c.Query("conversationId")
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}

	a, b, ok := model.ConversationMembers(convID)
	if !ok {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	userID := c.GetString(security.CtxUserIDKey)
	if userID != a && userID != b {
		c.JSON(http.StatusForbidden, errs.ErrAuthFailure)
		return
	}

	ctx := c.Request.Context()
	page, err := s.durable.LoadConversationPage(ctx, convID, offset)
	if err != nil {
		logger.Warnf("[gateway] history page conv=%s: %v", convID, err)
		c.JSON(http.StatusServiceUnavailable, errs.ErrStoreUnavailable)
		return
	}
	total, err := s.durable.CountMessages(ctx, convID)
	if err != nil {
		logger.Warnf("[gateway] history count conv=%s: %v", convID, err)
		c.JSON(http.StatusServiceUnavailable, errs.ErrStoreUnavailable)
		return
	}
	if page == nil {
		page = []model.Message{}
	}

	c.JSON(http.StatusOK, HistoryPage{
		Messages:        page,
		HasMoreMessages: offset+s.opts.PageSize < total,
	})
}
