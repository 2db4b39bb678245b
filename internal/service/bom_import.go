package service

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/xuri/excelize/v2"
)

// 导入列。Level 与 Item Code 必填，其余列可缺省
const (
	colLevel = iota
	colItemCode
	colItemDescription
	colMaterialConsideration
	colQuantity
	colUOM
	colRate
	colCurrency
	importColumnCount
)

// importHeaders 模板表头，顺序与上面的列常量一致
var importHeaders = []string{
	"Level", "Item Code", "Item Description", "Material Consideration",
	"Quantity", "UOM", "Rate", "Currency",
}

// templateRows 模板示例行
var templateRows = [][]interface{}{
	{0, "MB-001", "Motherboard", "", 1, "NOS", 15000, "INR"},
	{1, "SKT-001", "CPU socket", "", 1, "NOS", 500, "INR"},
	{1, "RAM-SLOT", "DIMM slot", "", 4, "NOS", 200, "INR"},
	{0, "PRC-001", "Processor", "", 1, "NOS", 25000, "INR"},
	{1, "CLR-001", "Cooler", "", 1, "NOS", 3000, "INR"},
	{0, "MEM-001", "Memory module 8GB", "", 2, "NOS", 6000, "INR"},
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// locateColumns 表头行 → 列下标，找不到的列为 -1
func locateColumns(header []string) ([]int, error) {
	pos := make([]int, importColumnCount)
	for i := range pos {
		pos[i] = -1
	}
	want := make(map[string]int, importColumnCount)
	for i, h := range importHeaders {
		want[normalizeHeader(h)] = i
	}
	for i, h := range header {
		if col, ok := want[normalizeHeader(h)]; ok && pos[col] < 0 {
			pos[col] = i
		}
	}
	if pos[colLevel] < 0 || pos[colItemCode] < 0 {
		return nil, fmt.Errorf("%w: header row must contain %q and %q", ErrInvalidSpreadsheet, importHeaders[colLevel], importHeaders[colItemCode])
	}
	return pos, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseNumber 空单元格视为 0，由校验器报告
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return f, err == nil
}

// parseLevel 接受非负整数，也接受 "1.0" 这类整数值的小数
func parseLevel(s string) (int, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// ParseSpreadsheet 读取第一个工作表，按 Level 列还原嵌套树。
// 某行的父节点是其上方最近一个 level 小一级的行；层级跳跃或为负时报 INVALID_LEVEL
func ParseSpreadsheet(r io.Reader) ([]bom.Node, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}

	// 首个非空行为表头
	start := 0
	for start < len(rows) && blankRow(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, &bom.ValidationError{Problems: []bom.Problem{{
			Path: "rows", Code: bom.ProblemEmptyTree, Message: "spreadsheet has no header row",
		}}}
	}
	pos, err := locateColumns(rows[start])
	if err != nil {
		return nil, err
	}

	var (
		flat     []bom.Node
		parents  []int
		problems []bom.Problem
		stack    []int // stack[l] 为当前 level l 的最近一行
	)
	for i := start + 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		path := fmt.Sprintf("rows[%d]", i+1)
		code := cell(row, pos[colItemCode])

		n := bom.Node{
			ItemCode:              bom.ItemCode(code),
			ItemDescription:       cell(row, pos[colItemDescription]),
			MaterialConsideration: cell(row, pos[colMaterialConsideration]),
			UOM:                   cell(row, pos[colUOM]),
			Currency:              strings.ToUpper(cell(row, pos[colCurrency])),
		}
		var ok bool
		if n.Quantity, ok = parseNumber(cell(row, pos[colQuantity])); !ok {
			problems = append(problems, bom.Problem{Path: path, ItemCode: code, Code: bom.ProblemInvalidQuantity,
				Message: fmt.Sprintf("quantity %q is not a number", cell(row, pos[colQuantity]))})
		}
		if n.Rate, ok = parseNumber(cell(row, pos[colRate])); !ok {
			problems = append(problems, bom.Problem{Path: path, ItemCode: code, Code: bom.ProblemInvalidRate,
				Message: fmt.Sprintf("rate %q is not a number", cell(row, pos[colRate]))})
		}

		raw := cell(row, pos[colLevel])
		level, ok := parseLevel(raw)
		switch {
		case !ok:
			problems = append(problems, bom.Problem{Path: path, ItemCode: code, Code: bom.ProblemInvalidLevel,
				Message: fmt.Sprintf("level %q must be a non-negative integer", raw)})
			continue
		case level > len(stack):
			problems = append(problems, bom.Problem{Path: path, ItemCode: code, Code: bom.ProblemInvalidLevel,
				Message: fmt.Sprintf("level %d has no parent at level %d above it", level, level-1)})
			continue
		}

		n.Level = level
		idx := len(flat)
		parent := -1
		if level > 0 {
			parent = stack[level-1]
		}
		stack = append(stack[:level], idx)
		flat = append(flat, n)
		parents = append(parents, parent)
	}

	if len(problems) > 0 {
		return nil, &bom.ValidationError{Problems: problems}
	}
	if len(flat) == 0 {
		return nil, &bom.ValidationError{Problems: []bom.Problem{{
			Path: "rows", Code: bom.ProblemEmptyTree, Message: "spreadsheet has no item rows",
		}}}
	}
	return nest(flat, parents), nil
}

// nest 由扁平行与父下标组装嵌套节点。子行下标总大于父行，逆序构建即可
func nest(flat []bom.Node, parents []int) []bom.Node {
	kids := make([][]int, len(flat))
	var roots []int
	for i, p := range parents {
		if p < 0 {
			roots = append(roots, i)
			continue
		}
		kids[p] = append(kids[p], i)
	}
	for i := len(flat) - 1; i >= 0; i-- {
		children := make([]bom.Node, 0, len(kids[i]))
		for _, c := range kids[i] {
			children = append(children, flat[c])
		}
		flat[i].Children = children
	}
	out := make([]bom.Node, 0, len(roots))
	for _, r := range roots {
		out = append(out, flat[r])
	}
	return out
}

// ImportTemplate 生成导入模板，调用方负责 Close
func ImportTemplate() (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "BOM"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	for i, h := range importHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		ref := col + "1"
		f.SetCellValue(sheet, ref, h)
		f.SetCellStyle(sheet, ref, ref, headerStyle)
	}
	for r, row := range templateRows {
		ref, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, ref, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	colWidths := []float64{8, 16, 28, 24, 10, 8, 12, 10}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	return f, nil
}
