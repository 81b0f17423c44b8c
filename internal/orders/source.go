// Package orders turns order CSVs into download tasks.
//
// An order CSV has a header row naming at least collection_id, scene_id and
// asset_type. CSVs exported by the legacy ordering system name order_id
// instead of collection_id and their assets are only served by the v1
// download endpoint.
package orders

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/nasa-impact/csda-bulk-download/internal/filetransfer"
	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

const (
	columnCollectionID = "collection_id"
	columnOrderID      = "order_id"
	columnSceneID      = "scene_id"
	columnAssetType    = "asset_type"
)

// Filter selects which CSV rows become tasks. Empty slices match all rows;
// values are compared case-insensitively.
type Filter struct {
	SceneIDs   []string
	AssetTypes []string
}

func (f Filter) matchScene(sceneID string) bool {
	return len(f.SceneIDs) == 0 ||
		slices.Contains(f.SceneIDs, strings.ToLower(sceneID))
}

func (f Filter) matchAssetType(assetType string) bool {
	return len(f.AssetTypes) == 0 ||
		slices.Contains(f.AssetTypes, strings.ToLower(assetType))
}

// NewFilter lowercases the given values so rows can be matched
// case-insensitively.
func NewFilter(sceneIDs, assetTypes []string) Filter {
	lower := func(values []string) []string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			out = append(out, strings.ToLower(v))
		}
		return out
	}
	return Filter{
		SceneIDs:   lower(sceneIDs),
		AssetTypes: lower(assetTypes),
	}
}

// Source parses order CSVs into tasks, one row at a time.
type Source struct {
	filter Filter
	logger *observability.CoreLogger
}

func NewSource(filter Filter, logger *observability.CoreLogger) *Source {
	return &Source{filter: filter, logger: logger}
}

// EachTask streams the tasks from one CSV to emit, never materializing the
// full file. Rows rejected by the filter produce no task. If emit returns
// false, iteration stops early.
//
// A missing required column is an input error reported before any task is
// emitted.
func (s *Source) EachTask(
	r io.Reader,
	emit func(task *filetransfer.Task) bool,
) error {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return fmt.Errorf("order CSV is empty")
	}
	if err != nil {
		return fmt.Errorf("reading order CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	version := filetransfer.EndpointV2
	baseColumn := columnCollectionID
	if _, ok := columns[columnOrderID]; ok {
		s.logger.Warn("orders: detected legacy CSV, using v1 download endpoint")
		version = filetransfer.EndpointV1
		baseColumn = columnOrderID
	}

	var missing []string
	for _, name := range []string{baseColumn, columnSceneID, columnAssetType} {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf(
			"order CSV is missing required columns: %s",
			strings.Join(missing, ", "))
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading order CSV row: %w", err)
		}

		base := record[columns[baseColumn]]
		sceneID := record[columns[columnSceneID]]
		assetType := record[columns[columnAssetType]]

		if !s.filter.matchScene(sceneID) {
			s.logger.Debug("orders: row does not pass scene_id filter",
				"scene_id", sceneID)
			continue
		}
		if !s.filter.matchAssetType(assetType) {
			s.logger.Debug("orders: row does not pass asset_type filter",
				"asset_type", assetType)
			continue
		}

		task := &filetransfer.Task{
			RelativePath: []string{base, sceneID, assetType},
			Version:      version,
		}
		if !emit(task) {
			return nil
		}
	}
}
