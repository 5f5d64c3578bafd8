package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the sale and stock endpoints. The group is expected to carry
// authentication already.
func RegisterRoutes(api *gin.RouterGroup) {
	sales := api.Group("/sales")
	sales.POST("", createSaleHandler())
	sales.GET("/:id", getSaleHandler())
	sales.PUT("/:id", updateSaleHandler())
	sales.DELETE("/:id", deleteSaleHandler())
	sales.POST("/:id/returns", returnSaleItemHandler())

	stock := api.Group("/stock")
	stock.POST("/increase", increaseStockHandler())
	stock.POST("/decrease", decreaseStockHandler())
	stock.POST("/move", moveStockHandler())
	stock.GET("/products/:productId", productStockHandler())
	stock.GET("/history", stockHistoryHandler())
	stock.GET("/history/export", stockHistoryExportHandler())
}
