package audit

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// HumanizeAction turns an action code such as TICKET_ASSIGNED into a
// display label ("Ticket Assigned") for exports.
func HumanizeAction(action string) string {
	return titleCaser.String(strings.ToLower(strings.ReplaceAll(action, "_", " ")))
}

// ExportCSV streams the filtered timeline as CSV. Paging is ignored;
// all matching rows are written.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filters TimelineFilters) error {
	filters.OffsetRows = 0
	filters.LimitRows = 0
	records, err := s.repo.Timeline(ctx, filters)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"at", "actor", "role", "action", "resource_type", "resource_id", "chain_depth"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.At.Format("2006-01-02 15:04:05"),
			rec.Actor.Username,
			string(rec.Actor.Role),
			HumanizeAction(rec.Action),
			rec.ResourceType,
			rec.ResourceID,
			strconv.Itoa(rec.ChainDepth),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
