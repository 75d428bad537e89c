package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/projectmatch-backend/internal/pkg/ctxutil"
)

const headerThreadID = "X-Thread-ID"

// AttachThreadID resolves the conversation thread id for the request.
// The X-Thread-ID header wins over the thread_id query parameter; when
// neither is present a fresh id is minted so a first turn can start a
// thread without a prior handshake. The resolved id is echoed back in
// the response header.
func AttachThreadID() gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := strings.TrimSpace(c.GetHeader(headerThreadID))
		if threadID == "" {
			threadID = strings.TrimSpace(c.Query("thread_id"))
		}
		if threadID == "" {
			threadID = uuid.New().String()
		}
		ctx := ctxutil.WithThreadID(c.Request.Context(), threadID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("thread_id", threadID)
		c.Writer.Header().Set(headerThreadID, threadID)
		c.Next()
	}
}
