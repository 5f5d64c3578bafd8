package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pos_backend/models"
)

func saleIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "sale id must be a positive integer")
		return 0, false
	}
	return id, true
}

func createSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSale
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		sale, err := models.CreateSale(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, "createSaleHandler", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"sale_id": sale.ID, "sale": sale})
	}
}

func updateSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleId, ok := saleIdParam(c)
		if !ok {
			return
		}
		var input models.SaleUpdate
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		result, err := models.UpdateSale(c.Request.Context(), saleId, &input)
		if err != nil {
			if errors.Is(err, models.ErrNoValidItems) && result != nil {
				body := errorBody(err)
				body["rejected_items"] = result.RejectedItems
				c.AbortWithStatusJSON(http.StatusBadRequest, body)
				return
			}
			abortWithError(c, "updateSaleHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"inserted_count": result.InsertedCount,
			"rejected_items": result.RejectedItems,
		})
	}
}

func deleteSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleId, ok := saleIdParam(c)
		if !ok {
			return
		}
		if err := models.DeleteSale(c.Request.Context(), saleId); err != nil {
			abortWithError(c, "deleteSaleHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func getSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleId, ok := saleIdParam(c)
		if !ok {
			return
		}
		sale, err := models.GetSale(c.Request.Context(), saleId)
		if err != nil {
			abortWithError(c, "getSaleHandler", err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func returnSaleItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleId, ok := saleIdParam(c)
		if !ok {
			return
		}
		var input models.NewSaleReturn
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		result, err := models.ReturnSaleItem(c.Request.Context(), saleId, &input)
		if err != nil {
			abortWithError(c, "returnSaleItemHandler", err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}
