package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pos_backend/models"
	"github.com/mmdatafocus/pos_backend/models/reports"
)

func increaseStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.StockAdjustmentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		result, err := models.IncreaseStock(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, "increaseStockHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func decreaseStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.StockAdjustmentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		result, err := models.DecreaseStock(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, "decreaseStockHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func moveStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.StockMoveInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		result, err := models.MoveStock(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, "moveStockHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func productStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := models.GetProductStock(c.Request.Context(), c.Param("productId"))
		if err != nil {
			abortWithError(c, "productStockHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func stockHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.StockHistoryFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			badRequest(c, "invalid query parameters")
			return
		}
		if filter.Limit < 0 {
			filter.Limit = 0
		}
		rows, err := models.ListStockHistory(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, "stockHistoryHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows, "count": len(rows)})
	}
}

func stockHistoryExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.StockHistoryFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			badRequest(c, "invalid query parameters")
			return
		}
		f, _, err := reports.StockHistoryWorkbook(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, "stockHistoryExportHandler", err)
			return
		}
		defer f.Close()
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=stock_history.xlsx")
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}
