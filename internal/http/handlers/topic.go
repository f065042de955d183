package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/arbor-backend/internal/http/response"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/services"
)

type TopicHandler struct {
	topics services.TopicService
}

func NewTopicHandler(topics services.TopicService) *TopicHandler {
	return &TopicHandler{topics: topics}
}

type createTopicReq struct {
	Title    string         `json:"title"`
	Metadata datatypes.JSON `json:"metadata"`
}

// POST /api/v1/topics
func (h *TopicHandler) CreateTopic(c *gin.Context) {
	var req createTopicReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	topic, err := h.topics.CreateTopic(dbc, services.CreateTopicInput{
		Title:    req.Title,
		Metadata: req.Metadata,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"topic": topic})
}

// GET /api/v1/topics?limit=50&offset=0
func (h *TopicHandler) ListTopics(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	offset := 0
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	topics, err := h.topics.ListTopics(dbc, limit, offset)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"topics": topics})
}

// GET /api/v1/topics/:id
func (h *TopicHandler) GetTopic(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	topic, err := h.topics.GetTopic(dbc, topicID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"topic": topic})
}

type renameTopicReq struct {
	Title string `json:"title"`
}

// PATCH /api/v1/topics/:id
func (h *TopicHandler) RenameTopic(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	var req renameTopicReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	topic, err := h.topics.RenameTopic(dbc, topicID, req.Title)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"topic": topic})
}

// DELETE /api/v1/topics/:id
func (h *TopicHandler) DeleteTopic(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	result, err := h.topics.DeleteTopic(dbc, topicID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": result})
}
