package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"immotech/server/internal/models"
	"immotech/server/internal/transaction"
)

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) CreateTransaction(c *gin.Context) {
	var in transaction.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := currentUser(c)
	if in.BuyerID == "" {
		in.BuyerID = actor.ID
	}
	if !actor.IsAdmin() {
		buyer, _ := models.ParseID(in.BuyerID)
		seller, _ := models.ParseID(in.SellerID)
		if buyer != actor.ID && seller != actor.ID {
			c.JSON(http.StatusForbidden, gin.H{"error": "you must be a party to the transaction"})
			return
		}
	}

	t, err := h.transactions.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "Failed to create transaction")
		return
	}
	c.JSON(http.StatusCreated, t)
}

// loadTransaction fetches the :id transaction for one of its parties or an
// admin. It writes the error response itself and returns nil on failure.
func (h *Handler) loadTransaction(c *gin.Context) *models.Transaction {
	t, err := h.transactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get transaction")
		return nil
	}
	actor := currentUser(c)
	if !t.IsParty(actor.ID) && !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this transaction"})
		return nil
	}
	return t
}

func (h *Handler) GetTransaction(c *gin.Context) {
	t := h.loadTransaction(c)
	if t == nil {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTransactionHistory(c *gin.Context) {
	history, err := h.transactions.History(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err, "Failed to get transaction history")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) ProcessPayment(c *gin.Context) {
	var req transaction.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := h.loadTransaction(c)
	if t == nil {
		return
	}

	t, err := h.transactions.ProcessPayment(c.Request.Context(), t.ID, req)
	if err != nil {
		h.respondError(c, err, "Failed to process payment")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ProcessBooking(c *gin.Context) {
	var details models.BookingDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := h.loadTransaction(c)
	if t == nil {
		return
	}

	t, err := h.transactions.ProcessBooking(c.Request.Context(), t.ID, details)
	if err != nil {
		h.respondError(c, err, "Failed to process booking")
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTransactionStatus moves a deal forward. Parties, the listing's agent
// and admins may cancel; completing is left to the seller side.
func (h *Handler) UpdateTransactionStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	t, err := h.transactions.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get transaction")
		return
	}

	actor := currentUser(c)
	allowed := actor.IsAdmin() || t.IsParty(actor.ID)
	closer := actor.IsAdmin() || actor.ID == t.SellerID
	if !closer {
		agent, err := h.isListingAgent(ctx, actor, t)
		if err != nil {
			h.respondError(c, err, "Failed to load transaction property")
			return
		}
		allowed = allowed || agent
		closer = agent
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this transaction"})
		return
	}
	if req.Status == models.TransactionCompleted && !closer {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the seller, the listing agent or an admin can complete a transaction"})
		return
	}

	t, err = h.transactions.UpdateStatus(ctx, t.ID, req.Status)
	if err != nil {
		h.respondError(c, err, "Failed to update transaction status")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) isListingAgent(ctx context.Context, actor *models.User, t *models.Transaction) (bool, error) {
	p, err := h.properties.Get(ctx, t.PropertyID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.AgentID != nil && *p.AgentID == actor.ID, nil
}

// DownloadContract streams the contract PDF as an attachment.
func (h *Handler) DownloadContract(c *gin.Context) {
	t := h.loadTransaction(c)
	if t == nil {
		return
	}

	path, err := h.transactions.ContractPath(c.Request.Context(), t.ID)
	if err != nil {
		h.respondError(c, err, "Failed to get contract")
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// ReconcileContracts generates the contracts missing for paid transactions.
func (h *Handler) ReconcileContracts(c *gin.Context) {
	n, err := h.transactions.ReconcileContracts(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to reconcile contracts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated": n})
}
