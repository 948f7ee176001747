package reconcile

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"ClaimSync/internal/models"
)

// VerdictRow is one verdict in the parquet report.
type VerdictRow struct {
	ClaimID int64   `parquet:"claim_id"`
	Table   string  `parquet:"table"`
	TranID  string  `parquet:"tran_id"`
	Status  string  `parquet:"status"`
	Tier    int32   `parquet:"tier"`
	Ref     string  `parquet:"ref"`
	Delta   *string `parquet:"delta"`
	Note    string  `parquet:"note"`
}

// WriteReport writes verdicts to a Snappy-compressed parquet file at path.
func WriteReport(path string, verdicts []models.Verdict) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	writer := parquet.NewGenericWriter[VerdictRow](file,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("claimsync", "1.0", ""),
	)
	rows := make([]VerdictRow, 0, len(verdicts))
	for _, v := range verdicts {
		row := VerdictRow{
			ClaimID: v.ClaimID,
			Table:   string(v.Table),
			TranID:  v.TranID,
			Status:  string(v.Status),
			Tier:    int32(v.Tier),
			Ref:     v.Ref,
			Note:    v.Note,
		}
		if v.Delta.Valid {
			s := v.Delta.Decimal.StringFixed(models.AmountScale)
			row.Delta = &s
		}
		rows = append(rows, row)
	}

	if _, err := writer.Write(rows); err != nil {
		file.Close()
		return fmt.Errorf("failed to write report rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to close report writer: %w", err)
	}
	return file.Close()
}
