package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/mmdatafocus/pos_backend/models"
	"github.com/xuri/excelize/v2"
)

const stockHistorySheet = "StockHistory"

var stockHistoryHeadings = []string{
	"Date", "Product", "Location", "Type", "Change", "Reference Type", "Reference Id", "Batch", "User", "Notes",
}

// StockHistoryWorkbook builds an xlsx of the caller's stock history. The filter's Limit is
// ignored; every matching row is written.
func StockHistoryWorkbook(ctx context.Context, filter models.StockHistoryFilter) (*excelize.File, int, error) {
	filter.Limit = -1
	filter.Offset = 0
	rows, err := models.ListStockHistory(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", stockHistorySheet); err != nil {
		return nil, 0, err
	}

	col := 'A'
	for _, h := range stockHistoryHeadings {
		f.SetCellValue(stockHistorySheet, string(col)+"1", h)
		col++
	}

	for i, r := range rows {
		rowNo := fmt.Sprint(i + 2)
		change, _ := r.ChangeAmount.Float64()
		f.SetCellValue(stockHistorySheet, "A"+rowNo, r.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		f.SetCellValue(stockHistorySheet, "B"+rowNo, r.ProductId)
		f.SetCellValue(stockHistorySheet, "C"+rowNo, r.LocationId)
		f.SetCellValue(stockHistorySheet, "D"+rowNo, string(r.Type))
		f.SetCellValue(stockHistorySheet, "E"+rowNo, change)
		f.SetCellValue(stockHistorySheet, "F"+rowNo, string(r.ReferenceType))
		if r.ReferenceId > 0 {
			f.SetCellValue(stockHistorySheet, "G"+rowNo, r.ReferenceId)
		}
		f.SetCellValue(stockHistorySheet, "H"+rowNo, r.BatchNumber)
		f.SetCellValue(stockHistorySheet, "I"+rowNo, r.UserName)
		f.SetCellValue(stockHistorySheet, "J"+rowNo, r.Notes)
	}
	return f, len(rows), nil
}

func WriteStockHistory(ctx context.Context, filter models.StockHistoryFilter, w io.Writer) (int, error) {
	f, n, err := StockHistoryWorkbook(ctx, filter)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return 0, err
	}
	return n, nil
}
