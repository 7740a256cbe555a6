package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nattapongs/credit-wallet/internal/line"
	"github.com/nattapongs/credit-wallet/internal/qr"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"github.com/nattapongs/credit-wallet/internal/service"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, svc *service.WalletService, session *line.Session) {
	v1 := r.Group("/v1")
	{
		v1.POST("/register", registerHandler(svc, session))
		v1.GET("/profiles/:id", profileHandler(svc))
		v1.GET("/profiles/:id/balance", balanceHandler(svc))
		v1.GET("/profiles/:id/balance/watch", watchHandler(svc))
		v1.POST("/profiles/:id/transfer", transferHandler(svc))
		v1.POST("/profiles/:id/withdrawals", withdrawalHandler(svc))
		v1.GET("/profiles/:id/history", historyHandler(svc))
		v1.GET("/profiles/:id/qr", qrHandler(svc))
	}
}

// writeError translates the service taxonomy into HTTP statuses. Raw store
// errors never reach clients; anything unknown becomes a generic 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrMissingField),
		errors.Is(err, service.ErrPhoneTaken),
		errors.Is(err, service.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrReceiverNotFound),
		errors.Is(err, service.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTransferConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type registerReq struct {
	AccessToken       string `json:"access_token" binding:"required"`
	FirstName         string `json:"first_name" binding:"required"`
	LastName          string `json:"last_name" binding:"required"`
	PhoneNumber       string `json:"phone_number" binding:"required"`
	Email             string `json:"email"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number"`
}

func registerHandler(svc *service.WalletService, session *line.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		identity, err := session.VerifyToken(c, req.AccessToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity verification failed"})
			return
		}
		p, err := svc.Register(c, identity, service.ProfileFields{
			FirstName:         req.FirstName,
			LastName:          req.LastName,
			PhoneNumber:       req.PhoneNumber,
			Email:             req.Email,
			BankName:          req.BankName,
			BankAccountNumber: req.BankAccountNumber,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func profileHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.GetProfileByID(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetBalance(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

// watchHandler streams full profile snapshots as server-sent events until the
// client disconnects.
func watchHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.WatchProfile(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		defer w.Close()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Stream(func(_ io.Writer) bool {
			select {
			case p, ok := <-w.C:
				if !ok {
					return false
				}
				c.SSEvent("profile", p)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

type transferReq struct {
	Receiver string `json:"receiver" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

func transferHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		rec, err := svc.Transfer(c, c.Param("id"), req.Receiver, amt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

type withdrawalReq struct {
	Amount string `json:"amount" binding:"required"`
}

func withdrawalHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req withdrawalReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		w, err := svc.RequestWithdrawal(c, c.Param("id"), amt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		filter := service.HistoryFilter(c.DefaultQuery("filter", "all"))
		recs, next, err := svc.History(c, c.Param("id"), filter, c.Query("cursor"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": recs, "next_cursor": next})
	}
}

// qrHandler returns the token the client renders into a receive-QR image.
func qrHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.GetProfileByID(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		payload := qr.Payload{UserID: p.ID}
		if raw := c.Query("amount"); raw != "" {
			amt, err := decimal.NewFromString(raw)
			if err != nil || amt.LessThanOrEqual(decimal.Zero) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
				return
			}
			payload.Amount = &amt
		}
		token, err := qr.Encode(payload)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
