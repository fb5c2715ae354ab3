// admin_api.go: Admin API for abuse inspection and limit tables
package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminAPIResponse is the envelope of every admin response
type AdminAPIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// AbuseStatus is the admin view of one identity
type AbuseStatus struct {
	Identity     string     `json:"identity"`
	State        AbuseState `json:"state"`
	Banned       bool       `json:"banned"`
	BanRemaining int64      `json:"banRemaining"`
}

// LimitsView lists the tables in use
type LimitsView struct {
	Tiers     map[string]map[Category]TierLimit `json:"tiers"`
	Endpoints []EndpointPreset                  `json:"endpoints"`
}

// AdminAPI provides HTTP endpoints for operating the engine
type AdminAPI struct {
	engine *Engine
	logger *zap.Logger
}

// NewAdminAPI creates a new admin API instance
func NewAdminAPI(engine *Engine, logger *zap.Logger) *AdminAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAPI{engine: engine, logger: logger}
}

// RegisterRoutes mounts the admin routes on group.
func (api *AdminAPI) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/abuse/:identity", api.HandleGetAbuse)
	group.DELETE("/abuse/:identity", api.HandleClearAbuse)
	group.GET("/limits", api.HandleGetLimits)
	// Route ids contain slashes, e.g. billing/operations.
	group.GET("/limits/endpoints/*id", api.HandleGetEndpoint)
}

// HandleGetAbuse returns the decay-aware abuse state of an identity
func (api *AdminAPI) HandleGetAbuse(c *gin.Context) {
	tracker := api.engine.Abuse()
	if tracker == nil {
		api.writeError(c, http.StatusNotFound, "abuse tracking is not enabled")
		return
	}
	identity := c.Param("identity")
	state := tracker.GetAbuseState(c.Request.Context(), identity)
	api.writeJSON(c, http.StatusOK, "Abuse state retrieved successfully", AbuseStatus{
		Identity:     identity,
		State:        state,
		Banned:       tracker.IsBanned(state),
		BanRemaining: tracker.BanRemaining(state),
	})
}

// HandleClearAbuse deletes the abuse record of an identity
func (api *AdminAPI) HandleClearAbuse(c *gin.Context) {
	identity := c.Param("identity")
	if err := api.engine.ClearAbuse(c.Request.Context(), identity); err != nil {
		api.writeError(c, http.StatusServiceUnavailable, "failed to clear abuse state")
		return
	}
	api.logger.Info("Abuse state cleared by admin",
		zap.String("identity", identity),
		zap.String("admin", c.GetString(AdminSubjectKey)))
	api.writeJSON(c, http.StatusOK, "Abuse state cleared successfully", map[string]string{"identity": identity})
}

// HandleGetLimits returns the tier and endpoint tables
func (api *AdminAPI) HandleGetLimits(c *gin.Context) {
	tables := api.engine.Tables()
	view := LimitsView{Tiers: make(map[string]map[Category]TierLimit), Endpoints: tables.Endpoints()}
	for _, tier := range tables.TierNames() {
		view.Tiers[tier] = tables.TierLimits(tier)
	}
	api.writeJSON(c, http.StatusOK, "Limits retrieved successfully", view)
}

// HandleGetEndpoint returns one endpoint preset by route id
func (api *AdminAPI) HandleGetEndpoint(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	preset, ok := api.engine.EndpointLimitByID(id)
	if !ok {
		api.writeError(c, http.StatusNotFound, "endpoint preset not found")
		return
	}
	api.writeJSON(c, http.StatusOK, "Endpoint preset retrieved successfully", preset)
}

func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (api *AdminAPI) writeJSON(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, AdminAPIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}

func (api *AdminAPI) writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, AdminAPIResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}
