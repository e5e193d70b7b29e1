package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/radvis/radvis-backend/internal/logger"
)

// DoctorIDKey is the gin context key holding the authenticated owner's id.
const DoctorIDKey = "doctorID"

// DoctorHeader carries the owner identity established by the auth gateway
// sitting in front of this service.
const DoctorHeader = "X-Doctor-ID"

type DoctorMiddleware struct {
	log *logger.Logger
}

func NewDoctorMiddleware(log *logger.Logger) *DoctorMiddleware {
	return &DoctorMiddleware{log: log.With("Middleware", "DoctorMiddleware")}
}

// RequireDoctor rejects requests without a parseable owner id. Downstream
// handlers read the id via DoctorID.
func (dm *DoctorMiddleware) RequireDoctor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(DoctorHeader)
		if raw == "" {
			raw = c.Query("doctorId")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing doctor identity"})
			return
		}
		doctorID, err := uuid.Parse(raw)
		if err != nil {
			dm.log.Warn("Rejected request with malformed doctor id", "value", raw)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid doctor identity"})
			return
		}
		c.Set(DoctorIDKey, doctorID)
		c.Next()
	}
}

// DoctorID returns the owner id set by RequireDoctor, or uuid.Nil.
func DoctorID(c *gin.Context) uuid.UUID {
	value, ok := c.Get(DoctorIDKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
