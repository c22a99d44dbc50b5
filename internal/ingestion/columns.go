package ingestion

import "strings"

// Column identifies one of the known feed columns.
type Column int

const (
	ColumnID Column = iota
	ColumnTitle
	ColumnImageLink
	ColumnDescription
	ColumnLink
	ColumnPrice
	ColumnSalePrice
	ColumnShipping
	ColumnItemGroupID
	ColumnAvailability
	ColumnAdditionalImageLink
	ColumnBrand
	ColumnGTIN
	ColumnGender
	ColumnGoogleProductCategory
	ColumnProductType
	ColumnMaterial
	ColumnPattern
	ColumnColor
	ColumnProductLength
	ColumnProductWidth
	ColumnProductHeight
	ColumnProductWeight
	ColumnSize
	ColumnLifestyleImageLink
	ColumnMaxHandlingTime
	ColumnIsBundle
	ColumnModel
	ColumnCondition

	columnCount
)

// columnNames holds the header label for each column, in feed order.
var columnNames = [columnCount]string{
	"id",
	"title",
	"image_link",
	"description",
	"link",
	"price",
	"sale_price",
	"shipping",
	"item_group_id",
	"availability",
	"additional_image_link",
	"brand",
	"gtin",
	"gender",
	"google_product_category",
	"product_type",
	"material",
	"pattern",
	"color",
	"product_length",
	"product_width",
	"product_height",
	"product_weight",
	"size",
	"lifestyle_image_link",
	"max_handling_time",
	"is_bundle",
	"Model",
	"condition",
}

// RequiredColumns must be present and non-empty for a row to be accepted.
var RequiredColumns = []Column{
	ColumnID,
	ColumnTitle,
	ColumnDescription,
	ColumnLink,
	ColumnImageLink,
	ColumnAvailability,
	ColumnPrice,
	ColumnCondition,
	ColumnBrand,
	ColumnGTIN,
}

// RecommendedColumns produce a warning when empty but never reject a row.
var RecommendedColumns = []Column{
	ColumnSalePrice,
	ColumnItemGroupID,
	ColumnGoogleProductCategory,
	ColumnProductType,
	ColumnSize,
	ColumnColor,
	ColumnMaterial,
	ColumnPattern,
	ColumnGender,
	ColumnModel,
}

// String returns the header label of the column.
func (c Column) String() string {
	if c < 0 || c >= columnCount {
		return "unknown"
	}
	return columnNames[c]
}

// ColumnNames returns the full header in feed order.
func ColumnNames() []string {
	names := make([]string, columnCount)
	copy(names, columnNames[:])
	return names
}

func lookupColumn(header string) (Column, bool) {
	header = strings.TrimSpace(header)
	for idx, name := range columnNames {
		if strings.EqualFold(name, header) {
			return Column(idx), true
		}
	}
	return 0, false
}

// Row is one data record positioned by the file's header mapping.
type Row struct {
	Number  int
	values  [columnCount]string
	present [columnCount]bool
}

// NewRow builds a row from column values. Columns missing from values are absent.
func NewRow(number int, values map[Column]string) Row {
	row := Row{Number: number}
	for column, value := range values {
		if column < 0 || column >= columnCount {
			continue
		}
		row.values[column] = strings.TrimSpace(value)
		row.present[column] = true
	}
	return row
}

// Value returns the trimmed cell value and whether the cell existed in the source row.
func (r Row) Value(c Column) (string, bool) {
	if c < 0 || c >= columnCount {
		return "", false
	}
	return r.values[c], r.present[c]
}

// Get returns the trimmed cell value, or "" when absent.
func (r Row) Get(c Column) string {
	value, _ := r.Value(c)
	return value
}

// Has reports whether the column holds a non-empty value.
func (r Row) Has(c Column) bool {
	return r.Get(c) != ""
}

// headerMap maps each known column to its index in the file, or -1.
type headerMap [columnCount]int

func newHeaderMap(cells []string) headerMap {
	var m headerMap
	for i := range m {
		m[i] = -1
	}
	for idx, cell := range cells {
		column, ok := lookupColumn(cell)
		if !ok || m[column] >= 0 {
			continue
		}
		m[column] = idx
	}
	return m
}

func (m headerMap) missing(columns []Column) []string {
	var names []string
	for _, column := range columns {
		if m[column] < 0 {
			names = append(names, column.String())
		}
	}
	return names
}

// row positions cells by header index. Cells beyond the end of a short row stay absent.
func (m headerMap) row(number int, cells []string) Row {
	row := Row{Number: number}
	for column, idx := range m {
		if idx < 0 || idx >= len(cells) {
			continue
		}
		row.values[column] = strings.TrimSpace(cells[idx])
		row.present[column] = true
	}
	return row
}
