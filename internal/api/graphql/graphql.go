package graphql

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/logger"
)

// Handler defines the interface for GraphQL API handlers
type Handler interface {
	// HandleGraphQL handles GraphQL requests
	HandleGraphQL(c *gin.Context)

	// HandlePlayground serves the GraphQL Playground
	HandlePlayground(c *gin.Context)
}

type gqlHandler struct {
	executor Executor
}

// NewHandler creates a new GraphQL handler
func NewHandler(exec Executor) Handler {
	return &gqlHandler{executor: exec}
}

// HandleGraphQL executes a JSON encoded {query, operationName, variables} request.
// GraphQL errors are reported in the body with status 200.
func (h *gqlHandler) HandleGraphQL(c *gin.Context) {
	var params graphql.RawParams
	if err := c.ShouldBindJSON(&params); err != nil {
		logger.WarnCtx(c.Request.Context(), "Invalid GraphQL request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, &graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("invalid request body: %s", err)},
		})
		return
	}
	params.Headers = c.Request.Header

	c.JSON(http.StatusOK, h.executor.Execute(c.Request.Context(), &params))
}

// HandlePlayground serves the GraphQL Playground interface
func (h *gqlHandler) HandlePlayground(c *gin.Context) {
	playground.Handler("Agent Market GraphQL Playground", "/graphql").ServeHTTP(c.Writer, c.Request)
}
