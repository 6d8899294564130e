package utils

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"flipperBot/internal/domain"
)

// WriteFlips writes completed flip cycles as CSV for audit export.
func WriteFlips(w io.Writer, flips []*domain.Flip) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"position_id", "symbol", "side", "size", "entry_price", "exit_price", "leverage", "pnl", "fees", "opened_at", "closed_at", "duration_sec", "close_reason"})

	for _, f := range flips {
		writer.Write([]string{
			strconv.FormatInt(f.PositionID, 10),
			f.Symbol,
			string(f.Side),
			strconv.FormatFloat(f.Size, 'f', -1, 64),
			strconv.FormatFloat(f.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(f.ExitPrice, 'f', -1, 64),
			strconv.Itoa(f.Leverage),
			strconv.FormatFloat(f.PNL, 'f', -1, 64),
			strconv.FormatFloat(f.Fees, 'f', -1, 64),
			f.OpenedAt.Format(time.RFC3339),
			f.ClosedAt.Format(time.RFC3339),
			strconv.FormatFloat(f.Duration().Seconds(), 'f', 0, 64),
			string(f.CloseReason),
		})
	}
	return writer.Error()
}

// WriteFlipsToCSV writes flips to a file.
func WriteFlipsToCSV(flips []*domain.Flip, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteFlips(file, flips)
}
