package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type quotationStatusRequest struct {
	Status string `json:"status" binding:"required,quotation_status"`
}

type bookingStatusRequest struct {
	Status string `json:"status" binding:"required,booking_status"`
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) updateQuotationStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req quotationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	quotation, err := h.settlements.UpdateQuotationStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quotation)
}

func (h *Handler) updateBookingStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req bookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	booking, err := h.settlements.UpdateBookingStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

func (h *Handler) generateInvoice(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	invoice, created, err := h.invoices.Generate(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, invoice)
}

func (h *Handler) getInvoice(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	invoice, err := h.invoices.Get(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// myTransactions returns the caller's balance and ledger history
func (h *Handler) myTransactions(c *gin.Context) {
	userID := actorFrom(c).UserID

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	history, err := h.ledger.History(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      balance,
		"transactions": history,
	})
}

func (h *Handler) withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	debit, err := h.ledger.Withdraw(c.Request.Context(), actorFrom(c).UserID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, debit)
}
