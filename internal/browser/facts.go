package browser

import (
	"encoding/json"
	"fmt"

	"element-hunter/internal/config"
	"element-hunter/internal/entity"
)

// collectorOptions is the argument object of collectorScript.
func collectorOptions(conf *config.DetectionConfig) map[string]any {
	return map[string]any{
		"maxScanned":   conf.MaxScanned,
		"maxTableRows": conf.MaxTableRows,
		"maxOptions":   conf.MaxOptions,
	}
}

// decodeCollection converts the evaluated collector result. Both drivers
// hand back generic JSON trees; numbers may arrive as int or float64.
func decodeCollection(v any) (*entity.Collection, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected collector result type %T", v)
	}

	col := &entity.Collection{
		URL:     getString(m, "url"),
		Title:   getString(m, "title"),
		Scanned: getInt(m, "scanned"),
		Skipped: getInt(m, "skipped"),
		Failed:  getInt(m, "failed"),
	}

	items, _ := m["elements"].([]interface{})
	col.Elements = make([]entity.RawElement, 0, len(items))

	for _, item := range items {
		em, ok := item.(map[string]interface{})
		if !ok {
			col.Failed++

			continue
		}

		col.Elements = append(col.Elements, decodeElement(em))
	}

	return col, nil
}

func decodeElement(m map[string]interface{}) entity.RawElement {
	el := entity.RawElement{
		Index:                    getInt(m, "index"),
		Tag:                      getString(m, "tag"),
		Attributes:               getStringMap(m, "attributes"),
		Text:                     getString(m, "text"),
		TextLength:               getInt(m, "textLength"),
		NthOfType:                getInt(m, "nthOfType"),
		HasClickHandler:          getBool(m, "hasClickHandler"),
		InForm:                   getBool(m, "inForm"),
		HasInteractiveDescendant: getBool(m, "hasInteractiveDescendant"),
		TableDescendant:          getBool(m, "tableDescendant"),
		Selector:                 getString(m, "selector"),
	}

	if path, ok := m["path"].([]interface{}); ok {
		el.Path = make([]int, 0, len(path))
		for _, p := range path {
			el.Path = append(el.Path, toInt(p))
		}
	}

	if r, ok := m["rect"].(map[string]interface{}); ok {
		el.Rect = entity.BoundingBox{
			X:      getFloat(r, "x"),
			Y:      getFloat(r, "y"),
			Width:  getFloat(r, "width"),
			Height: getFloat(r, "height"),
		}
	}

	if s, ok := m["style"].(map[string]interface{}); ok {
		el.Style = entity.StyleSummary{
			Display:       getString(s, "display"),
			Visibility:    getString(s, "visibility"),
			Opacity:       getString(s, "opacity"),
			Cursor:        getString(s, "cursor"),
			PointerEvents: getString(s, "pointerEvents"),
		}
	}

	if t, ok := m["table"].(map[string]interface{}); ok {
		el.Table = decodeTable(t)
	}

	if c, ok := m["controls"].(map[string]interface{}); ok {
		el.Controls = &entity.ControlTarget{
			ID:        getString(c, "id"),
			Exists:    getBool(c, "exists"),
			Role:      getString(c, "role"),
			ClassName: getString(c, "className"),
			Tag:       getString(c, "tag"),
		}
	}

	if opts, ok := m["options"].([]interface{}); ok {
		el.Options = make([]entity.RawOption, 0, len(opts))

		for _, o := range opts {
			om, ok := o.(map[string]interface{})
			if !ok {
				continue
			}

			el.Options = append(el.Options, entity.RawOption{
				Value:    getString(om, "value"),
				Text:     getString(om, "text"),
				Selected: getBool(om, "selected"),
				Index:    getInt(om, "index"),
				ID:       getString(om, "id"),
			})
		}
	}

	return el
}

func decodeTable(m map[string]interface{}) *entity.RawTable {
	t := &entity.RawTable{
		Headers:     getStrings(m, "headers"),
		RowCount:    getInt(m, "rowCount"),
		ColumnCount: getInt(m, "columnCount"),
	}

	rows, _ := m["rows"].([]interface{})
	for _, r := range rows {
		rm, ok := r.(map[string]interface{})
		if !ok {
			continue
		}

		t.Rows = append(t.Rows, entity.RawRow{
			Section:  getString(rm, "section"),
			Position: getInt(rm, "position"),
			Cells:    getStrings(rm, "cells"),
		})
	}

	return t
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}

	return false
}

func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}

	switch v := m[key].(type) {
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()

		return f
	}

	return 0
}

func getInt(m map[string]interface{}, key string) int {
	return toInt(m[key])
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Float64()

		return int(i)
	}

	return 0
}

func getStrings(m map[string]interface{}, key string) []string {
	list, _ := m[key].([]interface{})
	out := make([]string, 0, len(list))

	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func getStringMap(m map[string]interface{}, key string) map[string]string {
	out := make(map[string]string)

	if attrs, ok := m[key].(map[string]interface{}); ok {
		for k, v := range attrs {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}

	return out
}
