package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/http/response"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/services"
)

type TreeHandler struct {
	tree services.TreeService
}

func NewTreeHandler(tree services.TreeService) *TreeHandler {
	return &TreeHandler{tree: tree}
}

// GET /api/v1/topics/:id/tree?root_id=&node_id=&depth=
func (h *TreeHandler) GetTree(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	var opts services.GetTreeOptions
	if v := strings.TrimSpace(c.Query("root_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_root_id", err)
			return
		}
		opts.RootID = &id
	}
	if v := strings.TrimSpace(c.Query("node_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
			return
		}
		opts.FocusNodeID = &id
	}
	if v := strings.TrimSpace(c.Query("depth")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_depth", err)
			return
		}
		opts.Depth = &n
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	result, err := h.tree.GetTree(dbc, topicID, opts)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, result)
}

// GET /api/v1/topics/:id/branch?node_id=&before_node_id=&limit=&include_siblings=
func (h *TreeHandler) GetBranch(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	var opts services.BranchOptions
	if v := strings.TrimSpace(c.Query("node_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
			return
		}
		opts.NodeID = &id
	}
	if v := strings.TrimSpace(c.Query("before_node_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_before_node_id", err)
			return
		}
		opts.BeforeNodeID = &id
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := strings.TrimSpace(c.Query("include_siblings")); v != "" {
		opts.IncludeSiblings = v == "1" || strings.EqualFold(v, "true")
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	result, err := h.tree.GetBranchMessages(dbc, topicID, opts)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, result)
}

type createNodeReq struct {
	ParentID        types.ParentField    `json:"parent_id"`
	Role            string               `json:"role"`
	Blocks          []types.ContentBlock `json:"blocks"`
	Status          string               `json:"status"`
	SiblingsGroupID int                  `json:"siblings_group_id"`
	AssistantID     string               `json:"assistant_id"`
	ModelID         string               `json:"model_id"`
	TraceID         string               `json:"trace_id"`
	Stats           datatypes.JSON       `json:"stats"`
	SetActive       *bool                `json:"set_active"`
}

// POST /api/v1/topics/:id/nodes
func (h *TreeHandler) CreateNode(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	var req createNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.tree.CreateNode(dbc, topicID, services.CreateNodeInput{
		Parent:          req.ParentID.Ref(),
		Role:            req.Role,
		Blocks:          req.Blocks,
		Status:          req.Status,
		SiblingsGroupID: req.SiblingsGroupID,
		AssistantID:     req.AssistantID,
		ModelID:         req.ModelID,
		TraceID:         req.TraceID,
		Stats:           req.Stats,
		SetActive:       req.SetActive,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"node": node})
}

// GET /api/v1/nodes/:id
func (h *TreeHandler) GetNode(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.tree.GetNodeByID(dbc, nodeID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": node})
}

type updateNodeReq struct {
	Blocks          []types.ContentBlock `json:"blocks"`
	Status          *string              `json:"status"`
	SiblingsGroupID *int                 `json:"siblings_group_id"`
	AssistantID     *string              `json:"assistant_id"`
	ModelID         *string              `json:"model_id"`
	TraceID         *string              `json:"trace_id"`
	Stats           datatypes.JSON       `json:"stats"`
	ParentID        types.ParentField    `json:"parent_id"`
}

// PATCH /api/v1/nodes/:id
func (h *TreeHandler) UpdateNode(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var req updateNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.tree.UpdateNode(dbc, nodeID, services.UpdateNodeInput{
		Blocks:          req.Blocks,
		Status:          req.Status,
		SiblingsGroupID: req.SiblingsGroupID,
		AssistantID:     req.AssistantID,
		ModelID:         req.ModelID,
		TraceID:         req.TraceID,
		Stats:           req.Stats,
		Parent:          req.ParentID.MoveRef(),
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": node})
}

// DELETE /api/v1/nodes/:id?cascade=true&active_strategy=parent
func (h *TreeHandler) DeleteNode(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var opts services.DeleteNodeOptions
	if v := strings.TrimSpace(c.Query("cascade")); v != "" {
		opts.Cascade = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(c.Query("active_strategy")); v != "" {
		opts.ActiveStrategy = services.ActiveStrategy(v)
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	result, err := h.tree.DeleteNode(dbc, nodeID, opts)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": result})
}

// GET /api/v1/nodes/:id/path
func (h *TreeHandler) GetPath(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	path, err := h.tree.GetPathToNode(dbc, nodeID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"path": path})
}
