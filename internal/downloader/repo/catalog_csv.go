package repo

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sidedock/internal/core"
	"sidedock/internal/downloader"
)

// parseCatalogCSV parses the semicolon-delimited catalog list (FFA.txt /
// VRP-GameList.txt share the same column layout): a header row aliased as
// "Game Name;Release Name;Package Name;Version Code;Last Updated;Size (MB)",
// followed by one row per app. The size column is reported in megabytes and
// converted to bytes.
func parseCatalogCSV(r io.Reader) ([]downloader.CloudApp, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, core.Wrap(core.KindProtocol, "parse catalog csv", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	idx := func(name string) (int, bool) {
		i, ok := col[name]
		return i, ok
	}

	nameIdx, _ := idx("Game Name")
	fullIdx, okFull := idx("Release Name")
	pkgIdx, _ := idx("Package Name")
	verIdx, _ := idx("Version Code")
	updIdx, _ := idx("Last Updated")
	sizeIdx, okSize := idx("Size (MB)")
	if !okFull {
		return nil, core.Wrap(core.KindProtocol, "parse catalog csv",
			fmt.Errorf("missing required column %q", "Release Name"))
	}

	apps := make([]downloader.CloudApp, 0, len(rows)-1)
	for _, row := range rows[1:] {
		app := downloader.CloudApp{}
		if nameIdx < len(row) {
			app.AppName = row[nameIdx]
		}
		if fullIdx < len(row) {
			app.FullName = row[fullIdx]
		}
		if pkgIdx < len(row) {
			app.PackageName = row[pkgIdx]
		}
		if verIdx < len(row) && verIdx >= 0 {
			if v, err := strconv.ParseInt(strings.TrimSpace(row[verIdx]), 10, 64); err == nil {
				app.VersionCode = v
			}
		}
		if updIdx < len(row) {
			app.LastUpdated = row[updIdx]
		}
		if okSize && sizeIdx < len(row) {
			if mb, err := strconv.ParseFloat(strings.TrimSpace(row[sizeIdx]), 64); err == nil {
				app.SizeBytes = int64(mb * 1000.0 * 1000.0)
			}
		}
		if app.FullName == "" {
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}
