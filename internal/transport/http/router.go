package http

import (
	"github.com/gin-gonic/gin"
	"github.com/nattapongs/credit-wallet/internal/config"
	"github.com/nattapongs/credit-wallet/internal/line"
	"github.com/nattapongs/credit-wallet/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.WalletService, session *line.Session, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, session)
	return r
}
